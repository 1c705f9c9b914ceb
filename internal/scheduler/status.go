package scheduler

import (
	"os"
	"time"
)

// TypeStatus describes one ping type.
type TypeStatus struct {
	Type           string    `json:"type"`
	Pending        int       `json:"pending"`
	QuotaUsed      int       `json:"quota_used"`
	QuotaRemaining int       `json:"quota_remaining"`
	Draining       bool      `json:"draining"`
	Failures       int       `json:"failures,omitempty"`
	RetryAt        time.Time `json:"retry_at,omitzero"`
}

// Status is a point-in-time snapshot of the runtime.
type Status struct {
	Types       []TypeStatus `json:"types"`
	QuotaLimit  int          `json:"quota_limit"`
	DBPath      string       `json:"db_path"`
	DBSizeBytes int64        `json:"db_size_bytes"`
}

// Status reports the spool, quota and backoff state of every configured type.
func (r *Runtime) Status() Status {
	now := r.now()
	st := Status{
		QuotaLimit: r.store.QuotaLimit(),
		DBPath:     r.store.DBPath(),
	}
	if st.DBPath != "" {
		if info, err := os.Stat(st.DBPath); err == nil {
			st.DBSizeBytes = info.Size()
		}
	}
	for _, pingType := range r.cfg.PingTypes {
		failures, until := r.backoff.get(pingType)
		ts := TypeStatus{
			Type:           pingType,
			Pending:        r.tel.Pending(pingType),
			QuotaUsed:      r.store.QuotaCount(pingType, now),
			QuotaRemaining: r.store.QuotaRemaining(pingType, now),
			Draining:       r.guard.busy(pingType),
			Failures:       failures,
		}
		if until.After(now) {
			ts.RetryAt = until
		}
		st.Types = append(st.Types, ts)
	}
	return st
}
