// Package ping implements the durable on-disk queue of telemetry pings.
//
// Each ping lives in its own file under <root>/storage/<type>/<documentId>.
// The first line of the file is the server-relative upload path and the
// remainder is the serialized body. Files whose names are not canonical
// UUIDs are foreign and never enumerated.
package ping

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrInvalidID is returned for document ids that are not canonical UUIDs.
	ErrInvalidID = errors.New("ping: invalid document id")
	// ErrInvalidType is returned for ping types that cannot name a directory.
	ErrInvalidType = errors.New("ping: invalid ping type")
	// ErrInvalidPath is returned for empty or multi-line upload paths.
	ErrInvalidPath = errors.New("ping: invalid upload path")
	// ErrInvalidBody is returned for pings without a body.
	ErrInvalidBody = errors.New("ping: empty body")
)

var (
	idPattern   = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
	typePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)
)

// Ping is one serialized telemetry document queued for upload. Once stored,
// UploadPath and Body never change until the ping is removed.
type Ping struct {
	Type       string
	DocumentID string
	UploadPath string
	Body       []byte
}

// New builds a ping with a freshly minted document id. Ids are version 7
// UUIDs so that filename order follows queue order.
func New(pingType, uploadPath string, body []byte) *Ping {
	return &Ping{
		Type:       pingType,
		DocumentID: NewID(),
		UploadPath: uploadPath,
		Body:       body,
	}
}

// NewID returns a time-ordered document id.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Validate checks that p can be written to the spool.
func (p *Ping) Validate() error {
	if !ValidType(p.Type) {
		return fmt.Errorf("%w: %q", ErrInvalidType, p.Type)
	}
	if !ValidID(p.DocumentID) {
		return fmt.Errorf("%w: %q", ErrInvalidID, p.DocumentID)
	}
	if p.UploadPath == "" || strings.ContainsAny(p.UploadPath, "\r\n") {
		return fmt.Errorf("%w: %q", ErrInvalidPath, p.UploadPath)
	}
	if len(p.Body) == 0 {
		return ErrInvalidBody
	}
	return nil
}

// ValidID reports whether id matches the canonical 8-4-4-4-12 UUID form.
func ValidID(id string) bool { return idPattern.MatchString(id) }

// ValidType reports whether t is usable as a ping type directory name.
func ValidType(t string) bool { return typePattern.MatchString(t) }

// AppInfo identifies the producing application in submission paths.
type AppInfo struct {
	Name    string
	Version string
	Channel string
	BuildID string
}

// SubmissionPath returns the server-relative path a ping is posted to:
// /submit/telemetry/<docId>/<type>/<appName>/<appVersion>/<channel>/<buildId>
func SubmissionPath(documentID, pingType string, app AppInfo) string {
	parts := []string{documentID, pingType, app.Name, app.Version, app.Channel, app.BuildID}
	for i, p := range parts {
		if p == "" {
			p = "unknown"
		}
		parts[i] = url.PathEscape(p)
	}
	return "/submit/telemetry/" + strings.Join(parts, "/")
}
