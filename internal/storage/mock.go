package storage

import (
	"fmt"
	"sync"
	"time"
)

// Compile-time proof that MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

// MemStore is an in-memory implementation of Store for use in unit tests.
// It is exported so that other packages' tests can use it without creating
// a file on disk.
type MemStore struct {
	mu      sync.Mutex
	limit   int
	quota   map[string]quotaRecord
	resume  map[string]ResumeRecord
	records map[string]map[string]storedRecord
}

// NewMemStore creates a fresh in-memory store with the given daily quota.
func NewMemStore(limit int) *MemStore {
	return &MemStore{
		limit:   limit,
		quota:   make(map[string]quotaRecord),
		resume:  make(map[string]ResumeRecord),
		records: make(map[string]map[string]storedRecord),
	}
}

// --- Quota ---

func (m *MemStore) QuotaCount(pingType string, now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.quota[sanitizeKey(pingType)]
	if rec.Date != utcDateString(now) {
		return 0
	}
	return rec.Count
}

func (m *MemStore) QuotaLimit() int { return m.limit }

func (m *MemStore) QuotaRemaining(pingType string, now time.Time) int {
	rem := m.limit - m.QuotaCount(pingType, now)
	if rem < 0 {
		return 0
	}
	return rem
}

func (m *MemStore) QuotaConsume(pingType string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := sanitizeKey(pingType)
	today := utcDateString(now)
	rec := m.quota[key]
	if rec.Date != today {
		rec = quotaRecord{Date: today}
	}
	if rec.Count >= m.limit {
		return false, nil
	}
	rec.Count++
	m.quota[key] = rec
	return true, nil
}

// --- Resume ---

func (m *MemStore) ResumeGet(session string) (ResumeRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.resume[sanitizeKey(session)]
	return rec, ok, nil
}

func (m *MemStore) ResumePut(session string, rec ResumeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resume[sanitizeKey(session)] = rec
	return nil
}

func (m *MemStore) ResumeUpdate(session string, fn ResumeUpdateFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := sanitizeKey(session)
	cur, found := m.resume[key]
	next, err := fn(cur, found)
	if err != nil {
		return fmt.Errorf("storage: update resume %s: %w", session, err)
	}
	m.resume[key] = next
	return nil
}

func (m *MemStore) ResumeDelete(session string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.resume, sanitizeKey(session))
	return nil
}

// --- Records ---

func (m *MemStore) PutRecord(collection, id string, modified int64, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := sanitizeKey(collection)
	if m.records[key] == nil {
		m.records[key] = make(map[string]storedRecord)
	}
	m.records[key][id] = storedRecord{Modified: modified, Payload: append([]byte(nil), payload...)}
	return nil
}

func (m *MemStore) RecordCount(collection string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records[sanitizeKey(collection)]), nil
}

// DBPath always returns "" for the in-memory store.
func (m *MemStore) DBPath() string { return "" }

// Close is a no-op for the in-memory store.
func (m *MemStore) Close() error { return nil }
