package storage

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Compile-time proof that BoltStore satisfies the Store interface.
var _ Store = (*BoltStore)(nil)

var (
	bucketQuota   = []byte("quota")
	bucketResume  = []byte("resume")
	bucketRecords = []byte("records")
)

// quotaRecord is the JSON shape stored in the quota bucket, one per ping type.
type quotaRecord struct {
	Count int    `json:"count"`
	Date  string `json:"date"`
}

// storedRecord is the JSON shape of a downloaded record.
type storedRecord struct {
	Modified int64           `json:"modified"`
	Payload  json.RawMessage `json:"payload"`
}

// BoltStore is an ACID bbolt-backed implementation of Store.
// It is safe for concurrent use.
type BoltStore struct {
	db    *bolt.DB
	limit int
}

// Open opens (or creates) a bbolt database at path and initialises the
// required buckets. limit is the daily upload cap applied to each ping type.
func Open(path string, limit int) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketQuota, bucketResume, bucketRecords} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: init buckets: %w", err)
	}

	return &BoltStore{db: db, limit: limit}, nil
}

// --- Quota ---

func (s *BoltStore) QuotaCount(pingType string, now time.Time) int {
	var rec quotaRecord
	_ = s.db.View(func(tx *bolt.Tx) error {
		rec = decodeQuota(tx.Bucket(bucketQuota).Get([]byte(sanitizeKey(pingType))), now)
		return nil
	})
	if rec.Date != utcDateString(now) {
		return 0
	}
	return rec.Count
}

func (s *BoltStore) QuotaLimit() int { return s.limit }

func (s *BoltStore) QuotaRemaining(pingType string, now time.Time) int {
	rem := s.limit - s.QuotaCount(pingType, now)
	if rem < 0 {
		return 0
	}
	return rem
}

// QuotaConsume atomically checks and consumes one quota unit in a single
// bolt.Update. Returns (true, nil) if allowed, (false, nil) if exhausted.
func (s *BoltStore) QuotaConsume(pingType string, now time.Time) (bool, error) {
	today := utcDateString(now)
	key := []byte(sanitizeKey(pingType))
	allowed := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketQuota)
		rec := decodeQuota(b.Get(key), now)
		// Date rollover: reset count if stored date is stale.
		if rec.Date != today {
			rec = quotaRecord{Count: 0, Date: today}
		}
		if rec.Count >= s.limit {
			return nil
		}
		rec.Count++
		allowed = true
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
	if err != nil {
		return false, fmt.Errorf("storage: consume quota %s: %w", pingType, err)
	}
	return allowed, nil
}

func decodeQuota(data []byte, now time.Time) quotaRecord {
	if len(data) == 0 {
		return quotaRecord{Date: utcDateString(now)}
	}
	var rec quotaRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return quotaRecord{Date: utcDateString(now)}
	}
	return rec
}

// --- Resume ---

func (s *BoltStore) ResumeGet(session string) (ResumeRecord, bool, error) {
	var (
		rec   ResumeRecord
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketResume).Get([]byte(sanitizeKey(session)))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return ResumeRecord{}, false, fmt.Errorf("storage: read resume %s: %w", session, err)
	}
	return rec, found, nil
}

func (s *BoltStore) ResumePut(session string, rec ResumeRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketResume).Put([]byte(sanitizeKey(session)), data)
	}); err != nil {
		return fmt.Errorf("storage: write resume %s: %w", session, err)
	}
	return nil
}

func (s *BoltStore) ResumeUpdate(session string, fn ResumeUpdateFunc) error {
	key := []byte(sanitizeKey(session))
	if err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketResume)
		var (
			cur   ResumeRecord
			found bool
		)
		if data := b.Get(key); data != nil {
			if err := json.Unmarshal(data, &cur); err != nil {
				return err
			}
			found = true
		}
		next, err := fn(cur, found)
		if err != nil {
			return err
		}
		data, err := json.Marshal(next)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	}); err != nil {
		return fmt.Errorf("storage: update resume %s: %w", session, err)
	}
	return nil
}

func (s *BoltStore) ResumeDelete(session string) error {
	if err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketResume).Delete([]byte(sanitizeKey(session)))
	}); err != nil {
		return fmt.Errorf("storage: delete resume %s: %w", session, err)
	}
	return nil
}

// --- Records ---

func (s *BoltStore) PutRecord(collection, id string, modified int64, payload []byte) error {
	if !json.Valid(payload) {
		// Keep opaque payloads intact as a JSON string.
		quoted, err := json.Marshal(string(payload))
		if err != nil {
			return err
		}
		payload = quoted
	}
	data, err := json.Marshal(storedRecord{Modified: modified, Payload: payload})
	if err != nil {
		return err
	}
	if err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(bucketRecords).CreateBucketIfNotExists([]byte(sanitizeKey(collection)))
		if err != nil {
			return err
		}
		return b.Put([]byte(id), data)
	}); err != nil {
		return fmt.Errorf("storage: put record %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *BoltStore) RecordCount(collection string) (int, error) {
	n := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecords).Bucket([]byte(sanitizeKey(collection)))
		if b == nil {
			return nil
		}
		n = b.Stats().KeyN
		return nil
	})
	return n, err
}

// DBPath returns the filesystem path of the database file.
func (s *BoltStore) DBPath() string { return s.db.Path() }

// Close cleanly closes the underlying bbolt database.
func (s *BoltStore) Close() error { return s.db.Close() }
