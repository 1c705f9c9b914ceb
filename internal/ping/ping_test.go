package ping

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"0195f0c4-8a1b-7c3d-9e2f-123456789abc", true},
		{"0195F0C4-8A1B-7C3D-9E2F-123456789ABC", true},
		{"0195f0c4-8a1b-7c3d-9e2f-123456789ab", false},
		{"0195f0c48a1b7c3d9e2f123456789abc", false},
		{".incoming-123", false},
		{"../etc/passwd", false},
		{"", false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, ValidID(tc.id), "id=%q", tc.id)
	}
}

func TestValidType(t *testing.T) {
	assert.True(t, ValidType("core"))
	assert.True(t, ValidType("first-shutdown"))
	assert.True(t, ValidType("event_v2"))
	assert.False(t, ValidType(""))
	assert.False(t, ValidType("Core"))
	assert.False(t, ValidType("a/b"))
	assert.False(t, ValidType(".."))
}

func TestNew_MintsValidIDs(t *testing.T) {
	a := New("core", "/submit/x", []byte("{}"))
	b := New("core", "/submit/x", []byte("{}"))
	require.NoError(t, a.Validate())
	assert.NotEqual(t, a.DocumentID, b.DocumentID)
}

func TestValidate(t *testing.T) {
	ok := &Ping{Type: "core", DocumentID: NewID(), UploadPath: "/p", Body: []byte("{}")}
	require.NoError(t, ok.Validate())

	badType := *ok
	badType.Type = "NOPE"
	assert.ErrorIs(t, badType.Validate(), ErrInvalidType)

	badID := *ok
	badID.DocumentID = "abc"
	assert.ErrorIs(t, badID.Validate(), ErrInvalidID)

	badPath := *ok
	badPath.UploadPath = "/a\n/b"
	assert.ErrorIs(t, badPath.Validate(), ErrInvalidPath)

	emptyPath := *ok
	emptyPath.UploadPath = ""
	assert.ErrorIs(t, emptyPath.Validate(), ErrInvalidPath)

	emptyBody := *ok
	emptyBody.Body = nil
	assert.ErrorIs(t, emptyBody.Validate(), ErrInvalidBody)
}

func TestSubmissionPath(t *testing.T) {
	got := SubmissionPath("0195f0c4-8a1b-7c3d-9e2f-123456789abc", "core", AppInfo{
		Name:    "Fennec",
		Version: "68.0",
		Channel: "release",
		BuildID: "20190101",
	})
	assert.Equal(t, "/submit/telemetry/0195f0c4-8a1b-7c3d-9e2f-123456789abc/core/Fennec/68.0/release/20190101", got)
}

func TestSubmissionPath_FillsAndEscapes(t *testing.T) {
	got := SubmissionPath("id", "core", AppInfo{Name: "My App"})
	assert.Equal(t, "/submit/telemetry/id/core/My%20App/unknown/unknown/unknown", got)
}
