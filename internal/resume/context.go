// Package resume persists the cursor of a paginated fetch so an interrupted
// download continues from the last stored page instead of restarting.
package resume

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/Floorp-Projects/Floorp-sub093/internal/storage"
)

var (
	// ErrProtocolViolation marks misuse of a Context. It signals a
	// programming error and must not be retried.
	ErrProtocolViolation = errors.New("resume: protocol violation")
	// ErrAlreadySet is returned by SetInitial when a cursor already exists.
	ErrAlreadySet = fmt.Errorf("%w: context already set", ErrProtocolViolation)
	// ErrNotSet is returned by Update when no cursor exists yet.
	ErrNotSet = fmt.Errorf("%w: context not set", ErrProtocolViolation)
)

// Sort is the server-side ordering of a paginated fetch.
type Sort int

const (
	Oldest Sort = iota
	Newest
)

func (s Sort) String() string {
	if s == Newest {
		return "newest"
	}
	return "oldest"
}

// ParseSort maps "oldest"/"newest" (case-insensitive) to a Sort.
func ParseSort(s string) (Sort, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "oldest", "":
		return Oldest, nil
	case "newest":
		return Newest, nil
	default:
		return Oldest, fmt.Errorf("resume: unknown sort %q", s)
	}
}

// Backend is the keyed record store holding cursors. storage.Store satisfies it.
type Backend interface {
	ResumeGet(session string) (storage.ResumeRecord, bool, error)
	ResumePut(session string, rec storage.ResumeRecord) error
	ResumeUpdate(session string, fn storage.ResumeUpdateFunc) error
	ResumeDelete(session string) error
}

// Resume is the set of parameters a fetch should use. An empty Offset means
// start from the beginning of the window.
type Resume struct {
	Offset string
	Since  int64
	Sort   Sort
}

// Context is the persisted cursor of one download session.
type Context struct {
	backend Backend
	session string
}

// New binds a Context to session on backend.
func New(backend Backend, session string) *Context {
	return &Context{backend: backend, session: session}
}

// SetInitial persists the first cursor of a download. The existence check
// and the write happen in one backend transaction.
func (c *Context) SetInitial(offset string, since int64, sort Sort) error {
	return c.backend.ResumeUpdate(c.session, func(_ storage.ResumeRecord, found bool) (storage.ResumeRecord, error) {
		if found {
			return storage.ResumeRecord{}, fmt.Errorf("%w (session %s)", ErrAlreadySet, c.session)
		}
		return storage.ResumeRecord{Offset: offset, Since: since, Sort: sort.String()}, nil
	})
}

// Update replaces the stored offset, keeping since and sort.
func (c *Context) Update(offset string) error {
	return c.backend.ResumeUpdate(c.session, func(rec storage.ResumeRecord, found bool) (storage.ResumeRecord, error) {
		if !found {
			return storage.ResumeRecord{}, fmt.Errorf("%w (session %s)", ErrNotSet, c.session)
		}
		rec.Offset = offset
		return rec, nil
	})
}

// ResumeIfPossible decides where a fetch for (since, sort) should start.
// A stored cursor is reused only when its since and sort both match; the
// stored since wins in that case. On mismatch the cursor is reset to a
// fresh baseline with the requested parameters. limit never affects the
// decision.
func (c *Context) ResumeIfPossible(since int64, limit int, sort Sort) (Resume, error) {
	fresh := Resume{Since: since, Sort: sort}

	rec, found, err := c.backend.ResumeGet(c.session)
	if err != nil {
		return fresh, err
	}
	if !found {
		return fresh, nil
	}

	stored, sortErr := ParseSort(rec.Sort)
	if sortErr == nil && rec.Since == since && stored == sort {
		log.Debug().
			Str("session", c.session).
			Str("offset", rec.Offset).
			Int64("since", rec.Since).
			Int("limit", limit).
			Msg("resuming download")
		return Resume{Offset: rec.Offset, Since: rec.Since, Sort: stored}, nil
	}

	log.Info().
		Str("session", c.session).
		Int64("stored_since", rec.Since).
		Str("stored_sort", rec.Sort).
		Int64("since", since).
		Str("sort", sort.String()).
		Msg("resume context mismatch, starting fresh")
	if err := c.backend.ResumePut(c.session, storage.ResumeRecord{Since: since, Sort: sort.String()}); err != nil {
		return fresh, err
	}
	return fresh, nil
}

// IsSet reports whether a cursor is persisted. Backend errors read as unset.
func (c *Context) IsSet() bool {
	_, found, err := c.backend.ResumeGet(c.session)
	return err == nil && found
}

// Get returns the stored cursor, if any.
func (c *Context) Get() (Resume, bool, error) {
	rec, found, err := c.backend.ResumeGet(c.session)
	if err != nil || !found {
		return Resume{}, false, err
	}
	sort, err := ParseSort(rec.Sort)
	if err != nil {
		return Resume{}, false, err
	}
	return Resume{Offset: rec.Offset, Since: rec.Since, Sort: sort}, true, nil
}

// Reset clears the cursor so the next SetInitial is legal.
func (c *Context) Reset() error {
	return c.backend.ResumeDelete(c.session)
}
