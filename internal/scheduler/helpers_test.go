package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Floorp-Projects/Floorp-sub093/internal/config"
	"github.com/Floorp-Projects/Floorp-sub093/internal/upload"
)

var day1 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// scriptedUploader returns outcomes in order, then Success forever.
type scriptedUploader struct {
	mu       sync.Mutex
	outcomes []upload.Outcome
	paths    []string
	healthy  error
}

func (u *scriptedUploader) Upload(_ context.Context, path string, _ []byte) upload.Result {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.paths = append(u.paths, path)
	o := upload.Success
	if len(u.outcomes) > 0 {
		o, u.outcomes = u.outcomes[0], u.outcomes[1:]
	}
	if o == upload.RetryableServerError {
		return upload.Result{Outcome: o, StatusCode: 503, Err: errors.New("unexpected http 503")}
	}
	return upload.Result{Outcome: o, StatusCode: 200}
}

func (u *scriptedUploader) Healthy(context.Context) error { return u.healthy }

func (u *scriptedUploader) Calls() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.paths)
}

func baseConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		ServerEndpoint:    "http://127.0.0.1:1",
		UserAgent:         "pingrelay/test",
		ConnectTimeout:    time.Second,
		ReadTimeout:       time.Second,
		MaxUploadsPerDay:  100,
		InitialBackoff:    time.Minute,
		MaxBackoff:        time.Hour,
		CollectionEnabled: true,
		UploadEnabled:     true,
		PingTypes:         []string{"core", "event"},
		MaxPingBytes:      1 << 20,
		DrainSchedule:     "* * * * *",
		JanitorInterval:   time.Hour,
		AppName:           "pingrelay",
		AppVersion:        "1.0",
		AppChannel:        "test",
		AppBuildID:        "b1",
		SyncPageSize:      100,
		DataDir:           t.TempDir(),
		MetricsAddr:       "",
	}
}

func newTestRuntime(t *testing.T, cfg *config.Config, opts ...Option) *Runtime {
	t.Helper()
	r, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r
}
