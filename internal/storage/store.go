package storage

import (
	"strings"
	"time"
)

// Store is the persistence abstraction for everything pingrelay keeps outside
// the ping spool: per-type daily upload quota, resume cursors for batched
// downloads and the downloaded records themselves. Implementations must be
// safe for concurrent use.
type Store interface {
	QuotaCount(pingType string, now time.Time) int
	QuotaLimit() int
	QuotaRemaining(pingType string, now time.Time) int // limit - count, clamped to zero

	// QuotaConsume atomically checks and consumes one quota unit for
	// pingType on the UTC day of now. Returns (true, nil) if allowed,
	// (false, nil) if the day's quota is exhausted.
	QuotaConsume(pingType string, now time.Time) (bool, error)

	// ResumeGet returns the persisted cursor for session and whether one
	// exists.
	ResumeGet(session string) (ResumeRecord, bool, error)
	ResumePut(session string, rec ResumeRecord) error
	ResumeDelete(session string) error

	// ResumeUpdate reads the cursor for session, passes it to fn and stores
	// what fn returns, all in one transaction. An error from fn aborts the
	// write and is returned wrapped.
	ResumeUpdate(session string, fn ResumeUpdateFunc) error

	// PutRecord upserts one downloaded record into collection.
	PutRecord(collection, id string, modified int64, payload []byte) error
	RecordCount(collection string) (int, error)

	// DBPath returns the filesystem path of the database file ("" for in-memory).
	DBPath() string

	Close() error
}

// ResumeRecord is the persisted cursor of a batched download.
type ResumeRecord struct {
	Offset string `json:"offset"`
	Since  int64  `json:"since"`
	Sort   string `json:"sort"`
}

// ResumeUpdateFunc computes the new cursor from the current one; found is
// false when the session has no cursor yet.
type ResumeUpdateFunc func(cur ResumeRecord, found bool) (ResumeRecord, error)

// sanitizeKey trims whitespace and replaces path separators so user-supplied
// names are unambiguous bbolt keys.
func sanitizeKey(s string) string {
	s = strings.TrimSpace(s)
	return strings.NewReplacer("/", "_", "\\", "_").Replace(s)
}

// utcDateString returns the UTC date of now as "YYYY-MM-DD".
func utcDateString(now time.Time) string {
	return now.UTC().Format("2006-01-02")
}
