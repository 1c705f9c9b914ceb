package scheduler

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/rs/zerolog/log"

	"github.com/Floorp-Projects/Floorp-sub093/internal/metrics"
	"github.com/Floorp-Projects/Floorp-sub093/internal/telemetry"
)

// Run drains once at startup, then on every tick of the drain schedule and
// whenever Queue stores a new ping, until ctx is cancelled.
func (r *Runtime) Run(ctx context.Context) error {
	if r.httpSrv != nil {
		go func() {
			log.Info().Str("addr", r.cfg.MetricsAddr).Msg("metrics server listening")
			if err := r.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("metrics server error")
			}
		}()
	}

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	janitorDone := make(chan struct{})
	go func() {
		runJanitor(janitorCtx, r, r.cfg.JanitorInterval)
		close(janitorDone)
	}()
	defer func() {
		stopJanitor()
		<-janitorDone
	}()

	r.refreshGauges()
	log.Info().
		Strs("types", r.cfg.PingTypes).
		Int("limit", r.store.QuotaLimit()).
		Str("schedule", r.cfg.DrainSchedule).
		Bool("upload_enabled", r.cfg.UploadEnabled).
		Bool("sync", r.downloader != nil).
		Str("log_level", r.cfg.LogLevel).
		Msg("pingrelay started")

	r.dispatch(ctx)
	for {
		next, err := gronx.NextTickAfter(r.cfg.DrainSchedule, r.now(), false)
		if err != nil {
			r.drains.Wait()
			return fmt.Errorf("drain schedule %q: %w", r.cfg.DrainSchedule, err)
		}
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			r.drains.Wait()
			log.Info().Msg("pingrelay stopped")
			return nil
		case <-timer.C:
		case <-r.kick:
			timer.Stop()
		}
		r.dispatch(ctx)
	}
}

// dispatch runs DrainDue in the background so a slow upload never holds up
// the schedule. The per-type guard keeps overlapping passes apart.
func (r *Runtime) dispatch(ctx context.Context) {
	r.drains.Add(1)
	go func() {
		defer r.drains.Done()
		r.DrainDue(ctx)
	}()
}

// DrainDue drains every configured type that has pending pings, is not
// already draining and is out of backoff. Types are drained concurrently.
func (r *Runtime) DrainDue(ctx context.Context) []telemetry.Result {
	if !r.cfg.UploadEnabled {
		log.Debug().Msg("uploads disabled, skipping drain")
		return nil
	}

	var (
		mu      sync.Mutex
		results []telemetry.Result
		wg      sync.WaitGroup
	)
	for _, pingType := range r.cfg.PingTypes {
		if r.tel.Pending(pingType) == 0 {
			continue
		}
		if !r.backoff.due(pingType, r.now()) {
			log.Debug().Str("type", pingType).Msg("drain deferred by backoff")
			continue
		}
		if !r.guard.acquire(pingType) {
			log.Debug().Str("type", pingType).Msg("drain already active")
			continue
		}

		wg.Add(1)
		go func(pingType string) {
			defer wg.Done()
			defer r.guard.release(pingType)

			res := r.tel.Drain(ctx, pingType)
			if until := r.backoff.record(pingType, res.State, r.now()); !until.IsZero() {
				log.Info().
					Str("type", pingType).
					Str("state", res.State.String()).
					Time("retry_at", until).
					Msg("drain rescheduled")
			}

			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		}(pingType)
	}
	wg.Wait()
	return results
}

// DrainOnce drains every configured type immediately, ignoring backoff. It
// does nothing when uploads are disabled.
func (r *Runtime) DrainOnce(ctx context.Context) []telemetry.Result {
	if !r.cfg.UploadEnabled {
		log.Info().Msg("uploads disabled, nothing drained")
		return nil
	}
	results := make([]telemetry.Result, 0, len(r.cfg.PingTypes))
	for _, pingType := range r.cfg.PingTypes {
		if !r.guard.acquire(pingType) {
			continue
		}
		res := r.tel.Drain(ctx, pingType)
		r.backoff.record(pingType, res.State, r.now())
		r.guard.release(pingType)
		results = append(results, res)
	}
	return results
}

// refreshGauges republishes the per-type pending and quota gauges.
func (r *Runtime) refreshGauges() {
	for _, pingType := range r.cfg.PingTypes {
		metrics.PingsPending.WithLabelValues(pingType).Set(float64(r.tel.Pending(pingType)))
		metrics.QuotaRemaining.WithLabelValues(pingType).Set(float64(r.tel.QuotaRemaining(pingType)))
	}
}
