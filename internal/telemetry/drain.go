package telemetry

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/Floorp-Projects/Floorp-sub093/internal/metrics"
	"github.com/Floorp-Projects/Floorp-sub093/internal/upload"
)

// State is the position of a drain pass in its state machine:
// Idle -> Draining -> Drained | QuotaExceeded | BlockedOnRetryable.
type State int

const (
	Idle State = iota
	Draining
	Drained
	QuotaExceeded
	BlockedOnRetryable
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Draining:
		return "draining"
	case Drained:
		return "drained"
	case QuotaExceeded:
		return "quota_exceeded"
	case BlockedOnRetryable:
		return "blocked"
	default:
		return "unknown"
	}
}

// Result summarises one drain pass.
type Result struct {
	Type      string
	State     State
	Attempted int // upload attempts made, each consuming one quota unit
	Uploaded  int // accepted by the server
	Rejected  int // permanently rejected and discarded
	Remaining int // pings left in the spool after the pass
	Err       error
}

// Drained reports whether the pass emptied the spool for its type. It is the
// only signal that no reschedule is needed.
func (r Result) Drained() bool { return r.State == Drained }

// Drain uploads the pending pings of pingType in spool order. It stops at the
// first retryable failure so a later ping never goes out ahead of an earlier
// one, and stops once the day's quota for the type is used up. Callers must
// not run two drains of the same type concurrently.
func (t *Telemetry) Drain(ctx context.Context, pingType string) Result {
	res := Result{Type: pingType, State: Draining}
	log.Debug().Str("type", pingType).Int("pending", t.store.Count(pingType)).Msg("drain started")

	res.State = t.drain(ctx, &res)
	res.Remaining = t.store.Count(pingType)

	metrics.Drains.WithLabelValues(pingType, res.State.String()).Inc()
	metrics.PingsPending.WithLabelValues(pingType).Set(float64(res.Remaining))
	metrics.QuotaRemaining.WithLabelValues(pingType).Set(float64(t.QuotaRemaining(pingType)))

	ev := log.Info()
	if res.Err != nil {
		ev = log.Warn().Err(res.Err)
	}
	ev.Str("type", pingType).
		Str("state", res.State.String()).
		Int("attempted", res.Attempted).
		Int("uploaded", res.Uploaded).
		Int("rejected", res.Rejected).
		Int("remaining", res.Remaining).
		Msg("drain finished")
	return res
}

func (t *Telemetry) drain(ctx context.Context, res *Result) State {
	for p, err := range t.store.Pending(res.Type) {
		if err != nil {
			res.Err = err
			return BlockedOnRetryable
		}
		if err := ctx.Err(); err != nil {
			res.Err = err
			return BlockedOnRetryable
		}

		allowed, err := t.quota.QuotaConsume(res.Type, t.now())
		if err != nil {
			res.Err = err
			return BlockedOnRetryable
		}
		if !allowed {
			log.Info().Str("type", res.Type).Msg("daily upload quota reached")
			return QuotaExceeded
		}

		res.Attempted++
		r := t.uploader.Upload(ctx, p.UploadPath, p.Body)
		metrics.Uploads.WithLabelValues(res.Type, r.Outcome.String()).Inc()

		if !r.Outcome.Handled() {
			res.Err = r.Err
			log.Warn().
				Err(r.Err).
				Str("type", res.Type).
				Str("id", p.DocumentID).
				Int("http", r.StatusCode).
				Msg("upload failed, will retry")
			return BlockedOnRetryable
		}
		if r.Outcome == upload.PermanentClientError {
			res.Rejected++
			log.Error().
				Err(r.Err).
				Str("type", res.Type).
				Str("id", p.DocumentID).
				Int("http", r.StatusCode).
				Msg("ping rejected, discarding")
		} else {
			res.Uploaded++
		}

		if err := t.store.Remove(p); err != nil {
			res.Err = err
			return BlockedOnRetryable
		}
	}
	return Drained
}
