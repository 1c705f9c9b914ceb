// Package telemetry owns the queue-and-drain lifecycle of pings: producers
// queue through a Telemetry handle, and an external trigger asks it to drain
// one ping type at a time under the daily upload quota.
package telemetry

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Floorp-Projects/Floorp-sub093/internal/admit"
	"github.com/Floorp-Projects/Floorp-sub093/internal/metrics"
	"github.com/Floorp-Projects/Floorp-sub093/internal/ping"
	"github.com/Floorp-Projects/Floorp-sub093/internal/upload"
)

// Quota is the per-type daily upload allowance. storage.Store satisfies it.
type Quota interface {
	QuotaConsume(pingType string, now time.Time) (bool, error)
	QuotaRemaining(pingType string, now time.Time) int
}

// Options tunes a Telemetry handle.
type Options struct {
	// Filters run in order before a ping is written to the spool.
	Filters []admit.Filter
	// Now supplies wall-clock time for quota days; defaults to time.Now.
	Now func() time.Time
}

// Telemetry is the handle threaded from the process entry point into every
// component that queues or drains pings.
type Telemetry struct {
	store    ping.Store
	quota    Quota
	uploader upload.Uploader
	filters  []admit.Filter
	now      func() time.Time
}

// New builds a Telemetry handle over its collaborators.
func New(store ping.Store, quota Quota, uploader upload.Uploader, opts Options) *Telemetry {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Telemetry{
		store:    store,
		quota:    quota,
		uploader: uploader,
		filters:  opts.Filters,
		now:      now,
	}
}

// Queue admits and persists p. Rejected pings and write failures are logged
// and dropped; the return value reports whether p reached the spool.
func (t *Telemetry) Queue(p *ping.Ping) bool {
	if reason := admit.Pipeline(t.filters, p); reason != nil {
		metrics.PingsDropped.WithLabelValues(p.Type, reason.Filter).Inc()
		log.Debug().
			Str("type", p.Type).
			Str("id", p.DocumentID).
			Str("filter", reason.Filter).
			Str("detail", reason.Detail).
			Msg("ping not admitted")
		return false
	}

	if err := t.store.Put(p); err != nil {
		metrics.PingsDropped.WithLabelValues(p.Type, "io").Inc()
		log.Error().Err(err).Str("type", p.Type).Str("id", p.DocumentID).Msg("ping store failed, dropping")
		return false
	}

	metrics.PingsQueued.WithLabelValues(p.Type).Inc()
	metrics.PingsPending.WithLabelValues(p.Type).Set(float64(t.store.Count(p.Type)))
	log.Debug().Str("type", p.Type).Str("id", p.DocumentID).Msg("ping queued")
	return true
}

// Pending returns the number of pings of pingType waiting in the spool.
func (t *Telemetry) Pending(pingType string) int {
	return t.store.Count(pingType)
}

// Purge discards every pending ping of pingType without uploading it and
// returns how many were removed. The bool is false when a storage error
// stopped the pass before the spool was empty.
func (t *Telemetry) Purge(pingType string) (int, bool) {
	before := t.store.Count(pingType)
	ok := ping.Process(t.store, pingType, func(uploadPath string, _ []byte) bool {
		log.Debug().Str("type", pingType).Str("path", uploadPath).Msg("ping purged")
		return true
	})
	left := t.store.Count(pingType)
	removed := max(0, before-left)

	metrics.PingsDropped.WithLabelValues(pingType, "purged").Add(float64(removed))
	metrics.PingsPending.WithLabelValues(pingType).Set(float64(left))
	log.Info().Str("type", pingType).Int("removed", removed).Bool("complete", ok).Msg("spool purged")
	return removed, ok
}

// QuotaRemaining returns the uploads left today for pingType.
func (t *Telemetry) QuotaRemaining(pingType string) int {
	return t.quota.QuotaRemaining(pingType, t.now())
}
