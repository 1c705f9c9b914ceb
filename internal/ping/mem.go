package ping

import (
	"fmt"
	"iter"
	"slices"
	"sync"
)

// Compile-time proof that MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

// MemStore is an in-memory Store for tests.
type MemStore struct {
	mu    sync.Mutex
	pings map[string]map[string]*Ping
}

// NewMemStore creates an empty in-memory spool.
func NewMemStore() *MemStore {
	return &MemStore{pings: make(map[string]map[string]*Ping)}
}

func (m *MemStore) Put(p *Ping) error {
	if err := p.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pings[p.Type] == nil {
		m.pings[p.Type] = make(map[string]*Ping)
	}
	cp := *p
	cp.Body = append([]byte(nil), p.Body...)
	m.pings[p.Type][p.DocumentID] = &cp
	return nil
}

func (m *MemStore) Count(pingType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pings[pingType])
}

func (m *MemStore) Pending(pingType string) iter.Seq2[*Ping, error] {
	return func(yield func(*Ping, error) bool) {
		if !ValidType(pingType) {
			yield(nil, fmt.Errorf("%w: %q", ErrInvalidType, pingType))
			return
		}
		m.mu.Lock()
		ids := make([]string, 0, len(m.pings[pingType]))
		for id := range m.pings[pingType] {
			ids = append(ids, id)
		}
		m.mu.Unlock()
		slices.Sort(ids)

		for _, id := range ids {
			m.mu.Lock()
			p, ok := m.pings[pingType][id]
			m.mu.Unlock()
			if !ok {
				continue
			}
			if !yield(p, nil) {
				return
			}
		}
	}
}

func (m *MemStore) Remove(p *Ping) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pings[p.Type], p.DocumentID)
	return nil
}
