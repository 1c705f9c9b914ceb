// Package download pulls a collection from the sync server page by page.
// Each page is one accounting batch, and the offset cursor is persisted
// after every stored page so an interrupted run picks up where it stopped.
package download

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/Floorp-Projects/Floorp-sub093/internal/batch"
	"github.com/Floorp-Projects/Floorp-sub093/internal/metrics"
	"github.com/Floorp-Projects/Floorp-sub093/internal/resume"
)

const defaultPageSize = 100

// ErrBatchFailed is returned when a page could not be stored in full. The
// cursor is left on that page so the next run fetches it again.
var ErrBatchFailed = errors.New("download: batch failed")

// Request describes one download run.
type Request struct {
	Collection string
	Since      int64 // milliseconds; only records modified after this are fetched
	Limit      int   // page size; zero means the downloader default
	Sort       resume.Sort
}

// Record is one server record.
type Record struct {
	ID       string
	Modified int64 // milliseconds
	Payload  []byte
}

// Query is a single page request.
type Query struct {
	Collection string
	Since      int64
	Limit      int
	Sort       resume.Sort
	Offset     string
}

// Page is one page of results. An empty NextOffset marks the last page.
type Page struct {
	Records      []Record
	NextOffset   string
	LastModified int64
}

// Fetcher retrieves pages from a server.
type Fetcher interface {
	Fetch(ctx context.Context, q Query) (Page, error)
}

// Sink stores downloaded records. storage.Store satisfies it.
type Sink interface {
	PutRecord(collection, id string, modified int64, payload []byte) error
}

// Summary reports what a run did.
type Summary struct {
	Pages        int
	Fetched      int
	Stored       int
	Resumed      bool
	LastModified int64
	Batches      []batch.Batch
	// Failures is set when any batch of the run failed.
	Failures bool
}

// Options tunes a Downloader.
type Options struct {
	PageSize int
}

// Downloader runs resumable downloads.
type Downloader struct {
	fetcher  Fetcher
	sink     Sink
	backend  resume.Backend
	pageSize int
}

// New builds a Downloader. backend holds the cursors, one per collection.
func New(fetcher Fetcher, sink Sink, backend resume.Backend, opts Options) *Downloader {
	size := opts.PageSize
	if size <= 0 {
		size = defaultPageSize
	}
	return &Downloader{fetcher: fetcher, sink: sink, backend: backend, pageSize: size}
}

// Session is the resume key used for collection.
func Session(collection string) string { return "download:" + collection }

// Download fetches req.Collection until the server reports no further pages.
// A fetch error or a failed batch stops the run with the cursor on the last
// fully stored page.
func (d *Downloader) Download(ctx context.Context, req Request) (Summary, error) {
	var sum Summary
	if req.Collection == "" {
		return sum, errors.New("download: collection is required")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = d.pageSize
	}

	cursor := resume.New(d.backend, Session(req.Collection))
	start, err := cursor.ResumeIfPossible(req.Since, limit, req.Sort)
	if err != nil {
		return sum, fmt.Errorf("download: resume %s: %w", req.Collection, err)
	}
	sum.Resumed = start.Offset != ""

	tracker := batch.NewTracker()
	defer func() {
		sum.Batches = tracker.Batches()
		sum.Failures = tracker.HasFailures()
	}()

	offset := start.Offset
	for {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		page, err := d.fetcher.Fetch(ctx, Query{
			Collection: req.Collection,
			Since:      start.Since,
			Limit:      limit,
			Sort:       start.Sort,
			Offset:     offset,
		})
		if err != nil {
			return sum, fmt.Errorf("download: fetch %s: %w", req.Collection, err)
		}
		sum.Pages++
		sum.Fetched += len(page.Records)
		sum.LastModified = max(sum.LastModified, page.LastModified)

		stored, err := d.storePage(tracker, req.Collection, page)
		sum.Stored += stored
		if err != nil {
			return sum, err
		}

		if page.NextOffset == "" {
			if err := cursor.Reset(); err != nil {
				return sum, fmt.Errorf("download: clear cursor %s: %w", req.Collection, err)
			}
			log.Info().
				Str("collection", req.Collection).
				Int("pages", sum.Pages).
				Int("stored", sum.Stored).
				Bool("resumed", sum.Resumed).
				Msg("download complete")
			return sum, nil
		}
		if page.NextOffset == offset {
			return sum, fmt.Errorf("download: server repeated offset %q for %s", offset, req.Collection)
		}

		if err := advance(cursor, page.NextOffset, start); err != nil {
			return sum, fmt.Errorf("download: save cursor %s: %w", req.Collection, err)
		}
		offset = page.NextOffset
	}
}

func (d *Downloader) storePage(tracker *batch.Tracker, collection string, page Page) (int, error) {
	stored := 0
	for _, rec := range page.Records {
		tracker.OnAttempt()
		if err := d.sink.PutRecord(collection, rec.ID, rec.Modified, rec.Payload); err != nil {
			tracker.OnSucceeded(stored)
			tracker.OnFailed()
			open := tracker.Current()
			b := tracker.OnBatchFailed()
			metrics.Batches.WithLabelValues(collection, "failed").Inc()
			log.Warn().
				Err(err).
				Str("collection", collection).
				Str("id", rec.ID).
				Int("succeeded", open.Succeeded).
				Int("sent", b.Sent).
				Int("failed", b.Failed).
				Msg("download batch failed")
			return stored, fmt.Errorf("%w: %s record %s: %v", ErrBatchFailed, collection, rec.ID, err)
		}
		stored++
	}
	tracker.OnSucceeded(stored)
	tracker.OnBatchFinished()
	metrics.Batches.WithLabelValues(collection, "finished").Inc()
	metrics.RecordsStored.WithLabelValues(collection).Add(float64(stored))
	return stored, nil
}

func advance(cursor *resume.Context, next string, start resume.Resume) error {
	if !cursor.IsSet() {
		return cursor.SetInitial(next, start.Since, start.Sort)
	}
	return cursor.Update(next)
}
