// inject_state writes a quota count and a download cursor into state.db for
// smoke testing. It is a standalone tool, not part of the module's test suite.
//
// Usage:
//
//	go run scripts/inject_state/main.go --db /path/to/state.db --type core --count 42 \
//	    --collection bookmarks --offset abc123 --since 1700000000000
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

// quotaRecord mirrors internal/storage/bbolt.go quotaRecord.
type quotaRecord struct {
	Count int    `json:"count"`
	Date  string `json:"date"`
}

// resumeRecord mirrors internal/storage/store.go ResumeRecord.
type resumeRecord struct {
	Offset string `json:"offset"`
	Since  int64  `json:"since"`
	Sort   string `json:"sort"`
}

// sanitizeKey matches internal/storage/store.go sanitizeKey.
func sanitizeKey(s string) string {
	s = strings.TrimSpace(s)
	return strings.NewReplacer("/", "_", "\\", "_").Replace(s)
}

// utcDateString returns today's date in UTC as "YYYY-MM-DD".
func utcDateString() string {
	return time.Now().UTC().Format("2006-01-02")
}

// sessionKey matches download.Session.
func sessionKey(collection string) string {
	return sanitizeKey("download:" + collection)
}

func put(db *bolt.DB, bucket, key string, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", bucket, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return fmt.Errorf("create %s bucket: %w", bucket, err)
		}
		return b.Put([]byte(key), data)
	})
	return data, err
}

func main() {
	dbPath := flag.String("db", "", "Path to state.db (required)")
	pingType := flag.String("type", "core", "Ping type whose quota is set")
	count := flag.Int("count", 42, "Uploads already used today")
	collection := flag.String("collection", "", "Collection to write a download cursor for (optional)")
	offset := flag.String("offset", "smoke-offset", "Cursor offset")
	since := flag.Int64("since", 0, "Cursor since (ms)")
	sortOrder := flag.String("sort", "oldest", "Cursor sort (oldest|newest)")
	flag.Parse()

	if *dbPath == "" {
		log.Fatal("--db is required")
	}

	db, err := bolt.Open(*dbPath, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		log.Fatalf("open %s: %v", *dbPath, err)
	}
	defer db.Close()

	key := sanitizeKey(*pingType)
	data, err := put(db, "quota", key, quotaRecord{Count: *count, Date: utcDateString()})
	if err != nil {
		log.Fatalf("write quota: %v", err)
	}
	fmt.Printf("[inject_state] quota  bucket: key=%s  value=%s\n", key, data)

	if *collection != "" {
		key := sessionKey(*collection)
		data, err := put(db, "resume", key, resumeRecord{Offset: *offset, Since: *since, Sort: *sortOrder})
		if err != nil {
			log.Fatalf("write resume: %v", err)
		}
		fmt.Printf("[inject_state] resume bucket: key=%s  value=%s\n", key, data)
	}

	fmt.Println("[inject_state] done, restart the container to observe loaded state")
}
