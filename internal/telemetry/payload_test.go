package telemetry

import (
	"encoding/json"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Floorp-Projects/Floorp-sub093/internal/ping"
)

var testApp = ping.AppInfo{Name: "Floorp", Version: "11.20.0", Channel: "release", BuildID: "20260301000000"}

func TestBuildDocumentAt(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 30, 0, 0, time.FixedZone("CET", 3600))

	doc := BuildDocumentAt("core", "abc", testApp, json.RawMessage(`{"sessions":3}`), now)
	assert.Equal(t, "core", doc.Type)
	assert.Equal(t, "abc", doc.ID)
	assert.Equal(t, "2025-12-31T23:30:00Z", doc.CreationDate)
	assert.Equal(t, DocumentVersion, doc.Version)
	assert.Equal(t, "Floorp", doc.Application.Name)
	assert.Equal(t, "release", doc.Application.Channel)
	assert.Equal(t, runtime.GOOS, doc.Application.OS)
	assert.Equal(t, runtime.GOARCH, doc.Application.Architecture)
	assert.JSONEq(t, `{"sessions":3}`, string(doc.Payload))
}

func TestBuildDocumentAt_EmptyPayload(t *testing.T) {
	doc := BuildDocumentAt("event", "abc", testApp, nil, day1)
	assert.Equal(t, json.RawMessage("{}"), doc.Payload)
}

func TestNewDocumentPing(t *testing.T) {
	p, err := NewDocumentPing("core", testApp, []byte(`{"a":1}`), day1)
	require.NoError(t, err)
	require.NoError(t, p.Validate())

	assert.Equal(t, "core", p.Type)
	assert.True(t, ping.ValidID(p.DocumentID))
	assert.Equal(t, "/submit/telemetry/"+p.DocumentID+"/core/Floorp/11.20.0/release/20260301000000", p.UploadPath)

	var doc Document
	require.NoError(t, json.Unmarshal(p.Body, &doc))
	assert.Equal(t, p.DocumentID, doc.ID)
	assert.Equal(t, "2026-03-01T09:00:00Z", doc.CreationDate)
	assert.JSONEq(t, `{"a":1}`, string(doc.Payload))
}

func TestNewDocumentPing_RejectsInvalidJSON(t *testing.T) {
	_, err := NewDocumentPing("core", testApp, []byte(`{not json`), day1)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "not valid JSON"))
}

func TestNewDocumentPing_UniqueIDs(t *testing.T) {
	a, err := NewDocumentPing("core", testApp, nil, day1)
	require.NoError(t, err)
	b, err := NewDocumentPing("core", testApp, nil, day1)
	require.NoError(t, err)
	assert.NotEqual(t, a.DocumentID, b.DocumentID)
}
