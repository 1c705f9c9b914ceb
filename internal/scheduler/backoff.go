package scheduler

import (
	"sync"
	"time"

	"github.com/Floorp-Projects/Floorp-sub093/internal/telemetry"
)

// backoff tracks, per ping type, when the next drain may run.
type backoff struct {
	mu      sync.Mutex
	initial time.Duration
	max     time.Duration
	entries map[string]backoffEntry
}

type backoffEntry struct {
	failures int
	until    time.Time
}

func newBackoff(initial, ceiling time.Duration) *backoff {
	return &backoff{initial: initial, max: ceiling, entries: make(map[string]backoffEntry)}
}

// due reports whether pingType may be drained at now.
func (b *backoff) due(pingType string, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[pingType]
	return !ok || !now.Before(e.until)
}

// record applies the outcome of a drain pass and returns the time before
// which the type will not be drained again (zero when unrestricted).
func (b *backoff) record(pingType string, state telemetry.State, now time.Time) time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch state {
	case telemetry.Drained:
		delete(b.entries, pingType)
		return time.Time{}
	case telemetry.QuotaExceeded:
		e := backoffEntry{until: nextUTCMidnight(now)}
		b.entries[pingType] = e
		return e.until
	default:
		e := b.entries[pingType]
		e.failures++
		e.until = now.Add(b.delay(e.failures))
		b.entries[pingType] = e
		return e.until
	}
}

// delay is initial·2^(failures-1), capped at max.
func (b *backoff) delay(failures int) time.Duration {
	d := b.initial
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= b.max {
			return b.max
		}
	}
	return min(d, b.max)
}

func (b *backoff) get(pingType string) (failures int, until time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.entries[pingType]
	return e.failures, e.until
}

func nextUTCMidnight(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
}
