package storage

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
)

// TestQuotaConsume_Concurrent fires 50 goroutines simultaneously against a
// store with limit=10. Exactly 10 should succeed.
func TestQuotaConsume_Concurrent(t *testing.T) {
	const goroutines = 50
	const limit = 10

	store := newTestStore(t, limit)

	var wg sync.WaitGroup
	var successes atomic.Int64

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.QuotaConsume("core", day1)
			if err != nil {
				t.Errorf("QuotaConsume error: %v", err)
				return
			}
			if ok {
				successes.Add(1)
			}
		}()
	}

	wg.Wait()

	if got := successes.Load(); got != limit {
		t.Errorf("expected %d successful QuotaConsume calls, got %d", limit, got)
	}
}

// TestQuotaConsume_ConcurrentTypes gives each goroutine its own ping type.
// All should succeed since quotas are tracked per type.
func TestQuotaConsume_ConcurrentTypes(t *testing.T) {
	const goroutines = 20

	store := newTestStore(t, 1)

	var wg sync.WaitGroup
	var successes atomic.Int64

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(pingType string) {
			defer wg.Done()
			ok, err := store.QuotaConsume(pingType, day1)
			if err != nil {
				t.Errorf("QuotaConsume error for %s: %v", pingType, err)
				return
			}
			if ok {
				successes.Add(1)
			}
		}(fmt.Sprintf("type-%d", i))
	}

	wg.Wait()

	if got := successes.Load(); got != goroutines {
		t.Errorf("expected all %d QuotaConsume calls to succeed, got %d", goroutines, got)
	}
}

// TestDBPath verifies BoltStore returns a non-empty path.
func TestDBPath(t *testing.T) {
	store := newTestStore(t, 100)
	path := store.DBPath()
	if path == "" {
		t.Error("expected non-empty DBPath")
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("DBPath %q does not exist: %v", path, err)
	}
}
