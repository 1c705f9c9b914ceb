package scheduler

import (
	"context"
	"os"
	"time"

	"github.com/Floorp-Projects/Floorp-sub093/internal/metrics"
)

// runJanitor periodically republishes the spool and quota gauges and the
// state database size. It returns when ctx is cancelled.
func runJanitor(ctx context.Context, r *Runtime, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refreshGauges()
			if path := r.store.DBPath(); path != "" {
				if info, err := os.Stat(path); err == nil {
					metrics.StateDBSizeBytes.Set(float64(info.Size()))
				}
			}
		}
	}
}
