package telemetry

import (
	"encoding/json"
	"fmt"
	"runtime"
	"time"

	"github.com/Floorp-Projects/Floorp-sub093/internal/ping"
)

// DocumentVersion is the envelope format version written into every document.
const DocumentVersion = 4

// Application identifies the producer inside a document envelope.
type Application struct {
	Name         string `json:"name"`
	Version      string `json:"version"`
	Channel      string `json:"channel"`
	BuildID      string `json:"buildId"`
	Architecture string `json:"architecture"`
	OS           string `json:"os"`
}

// Document is the envelope wrapped around a caller-supplied payload.
type Document struct {
	Type         string          `json:"type"`
	ID           string          `json:"id"`
	CreationDate string          `json:"creationDate"`
	Version      int             `json:"version"`
	Application  Application     `json:"application"`
	Payload      json.RawMessage `json:"payload"`
}

// BuildDocumentAt constructs the envelope with a caller-provided "now".
func BuildDocumentAt(pingType, id string, app ping.AppInfo, payload json.RawMessage, now time.Time) Document {
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	return Document{
		Type:         pingType,
		ID:           id,
		CreationDate: now.UTC().Format(time.RFC3339),
		Version:      DocumentVersion,
		Application: Application{
			Name:         app.Name,
			Version:      app.Version,
			Channel:      app.Channel,
			BuildID:      app.BuildID,
			Architecture: runtime.GOARCH,
			OS:           runtime.GOOS,
		},
		Payload: payload,
	}
}

// NewDocumentPing wraps payload in an envelope and returns a ping ready to
// queue, addressed to its submission path.
func NewDocumentPing(pingType string, app ping.AppInfo, payload []byte, now time.Time) (*ping.Ping, error) {
	if len(payload) > 0 && !json.Valid(payload) {
		return nil, fmt.Errorf("telemetry: payload for %s is not valid JSON", pingType)
	}
	id := ping.NewID()
	body, err := json.Marshal(BuildDocumentAt(pingType, id, app, payload, now))
	if err != nil {
		return nil, fmt.Errorf("telemetry: marshal %s: %w", pingType, err)
	}
	return &ping.Ping{
		Type:       pingType,
		DocumentID: id,
		UploadPath: ping.SubmissionPath(id, pingType, app),
		Body:       body,
	}, nil
}
