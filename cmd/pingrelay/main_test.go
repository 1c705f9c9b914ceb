package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Floorp-Projects/Floorp-sub093/internal/config"
	"github.com/Floorp-Projects/Floorp-sub093/internal/download"
	"github.com/Floorp-Projects/Floorp-sub093/internal/ping"
	"github.com/Floorp-Projects/Floorp-sub093/internal/resume"
	"github.com/Floorp-Projects/Floorp-sub093/internal/scheduler"
	"github.com/Floorp-Projects/Floorp-sub093/internal/telemetry"
)

type stubRuntime struct {
	runFn    func(context.Context) error
	healthFn func(context.Context) error
	drainFn  func(context.Context) []telemetry.Result
	queueFn  func(string, []byte, bool) (*ping.Ping, error)
	purgeFn  func(string) (int, error)
	syncFn   func(context.Context, string, int64, resume.Sort) (download.Summary, error)
	status   scheduler.Status
	closeN   atomic.Int32
}

func (s *stubRuntime) Run(ctx context.Context) error {
	if s.runFn != nil {
		return s.runFn(ctx)
	}
	return nil
}

func (s *stubRuntime) DrainOnce(ctx context.Context) []telemetry.Result {
	if s.drainFn != nil {
		return s.drainFn(ctx)
	}
	return nil
}

func (s *stubRuntime) Queue(pingType string, payload []byte, raw bool) (*ping.Ping, error) {
	if s.queueFn != nil {
		return s.queueFn(pingType, payload, raw)
	}
	return ping.New(pingType, "/submit/x", payload), nil
}

func (s *stubRuntime) Purge(pingType string) (int, error) {
	if s.purgeFn != nil {
		return s.purgeFn(pingType)
	}
	return 0, nil
}

func (s *stubRuntime) Status() scheduler.Status { return s.status }

func (s *stubRuntime) Sync(ctx context.Context, collection string, since int64, sort resume.Sort) (download.Summary, error) {
	if s.syncFn != nil {
		return s.syncFn(ctx, collection, since, sort)
	}
	return download.Summary{}, nil
}

func (s *stubRuntime) Healthy(ctx context.Context) error {
	if s.healthFn != nil {
		return s.healthFn(ctx)
	}
	return nil
}

func (s *stubRuntime) Close() {
	s.closeN.Add(1)
}

func installMainSeams(t *testing.T) {
	t.Helper()
	origLoad := loadConfig
	origRegister := registerMetrics
	origSignal := newSignalContext
	origNew := newRuntime
	t.Cleanup(func() {
		loadConfig = origLoad
		registerMetrics = origRegister
		newSignalContext = origSignal
		newRuntime = origNew
	})
}

// useStub wires rt as the runtime with a minimal config and returns the
// config the commands received.
func useStub(t *testing.T, rt *stubRuntime) *config.Config {
	t.Helper()
	installMainSeams(t)
	cfg := &config.Config{LogLevel: "error", LogFormat: "json"}
	loadConfig = func() (*config.Config, error) { return cfg, nil }
	registerMetrics = func() {}
	newSignalContext = func(parent context.Context) (context.Context, context.CancelFunc) {
		return context.WithCancel(parent)
	}
	newRuntime = func(*config.Config) (appRuntime, error) { return rt, nil }
	return cfg
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCmd_PrintsVersionInfo(t *testing.T) {
	out, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "pingrelay dev")
}

func TestHelpFlag_PrintsUsage(t *testing.T) {
	out, err := execute(t, "", "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "Usage")
	for _, sub := range []string{"drain", "queue", "purge", "status", "sync", "healthcheck"} {
		assert.Contains(t, out, sub)
	}
}

func TestRunDaemon_LoadConfigError(t *testing.T) {
	installMainSeams(t)
	loadConfig = func() (*config.Config, error) {
		return nil, errors.New("bad config")
	}

	err := runDaemon(nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration error")
}

func TestRunDaemon_RuntimeInitError(t *testing.T) {
	useStub(t, nil)
	newRuntime = func(*config.Config) (appRuntime, error) {
		return nil, errors.New("init fail")
	}

	err := runDaemon(nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "runtime init")
}

func TestRunDaemon_RunAndCloseOnCancel(t *testing.T) {
	installMainSeams(t)
	cfg := &config.Config{LogLevel: "debug", LogFormat: "text"}
	loadConfig = func() (*config.Config, error) { return cfg, nil }

	var registered bool
	registerMetrics = func() { registered = true }

	rt := &stubRuntime{}
	rt.runFn = func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	}

	var gotVersion string
	newRuntime = func(c *config.Config) (appRuntime, error) {
		gotVersion = c.BuildVersion
		return rt, nil
	}
	newSignalContext = func(parent context.Context) (context.Context, context.CancelFunc) {
		ctx, cancel := context.WithCancel(parent)
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()
		return ctx, func() {}
	}

	err := runDaemon(nil, nil)
	require.NoError(t, err)
	assert.True(t, registered)
	assert.Equal(t, version, gotVersion)
	assert.EqualValues(t, 1, rt.closeN.Load())
}

func TestRunDaemon_PropagatesRunError(t *testing.T) {
	rt := &stubRuntime{
		runFn: func(context.Context) error { return errors.New("run failed") },
	}
	useStub(t, rt)

	err := runDaemon(nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run failed")
	assert.EqualValues(t, 1, rt.closeN.Load())
}

func TestDrainCmd(t *testing.T) {
	rt := &stubRuntime{drainFn: func(context.Context) []telemetry.Result {
		return []telemetry.Result{
			{Type: "core", State: telemetry.Drained, Attempted: 2, Uploaded: 2},
			{Type: "event", State: telemetry.QuotaExceeded, Attempted: 1, Uploaded: 1, Remaining: 4},
		}
	}}
	useStub(t, rt)

	out, err := execute(t, "", "drain")
	require.NoError(t, err)
	assert.Contains(t, out, "core: drained (attempted=2 uploaded=2 rejected=0 remaining=0)")
	assert.Contains(t, out, "event: quota_exceeded (attempted=1 uploaded=1 rejected=0 remaining=4)")
	assert.EqualValues(t, 1, rt.closeN.Load())
}

func TestDrainCmd_BlockedIsError(t *testing.T) {
	useStub(t, &stubRuntime{drainFn: func(context.Context) []telemetry.Result {
		return []telemetry.Result{{Type: "core", State: telemetry.BlockedOnRetryable, Attempted: 1, Remaining: 1}}
	}})

	out, err := execute(t, "", "drain")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 ping type(s) blocked")
	assert.Contains(t, out, "core: blocked")
}

func TestPurgeCmd(t *testing.T) {
	var gotType string
	rt := &stubRuntime{purgeFn: func(pingType string) (int, error) {
		gotType = pingType
		return 3, nil
	}}
	useStub(t, rt)

	out, err := execute(t, "", "purge", "--type", "event")
	require.NoError(t, err)
	assert.Equal(t, "event", gotType)
	assert.Contains(t, out, "event: purged 3")
	assert.EqualValues(t, 1, rt.closeN.Load())
}

func TestPurgeCmd_Errors(t *testing.T) {
	useStub(t, &stubRuntime{purgeFn: func(string) (int, error) {
		return 0, scheduler.ErrDrainActive
	}})

	_, err := execute(t, "", "purge")
	require.Error(t, err, "--type is required")

	_, err = execute(t, "", "purge", "--type", "core")
	assert.ErrorIs(t, err, scheduler.ErrDrainActive)
}

func TestQueueCmd_Stdin(t *testing.T) {
	var gotType string
	var gotPayload []byte
	var gotRaw bool
	useStub(t, &stubRuntime{queueFn: func(pingType string, payload []byte, raw bool) (*ping.Ping, error) {
		gotType, gotPayload, gotRaw = pingType, payload, raw
		return &ping.Ping{Type: pingType, DocumentID: "0190b6f2-3c1d-7a4e-8f00-1234567890ab"}, nil
	}})

	out, err := execute(t, `{"a":1}`, "queue", "--type", "core", "--raw")
	require.NoError(t, err)
	assert.Equal(t, "0190b6f2-3c1d-7a4e-8f00-1234567890ab\n", out)
	assert.Equal(t, "core", gotType)
	assert.Equal(t, `{"a":1}`, string(gotPayload))
	assert.True(t, gotRaw)
}

func TestQueueCmd_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payload.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"from":"file"}`), 0o600))

	var gotPayload []byte
	useStub(t, &stubRuntime{queueFn: func(pingType string, payload []byte, raw bool) (*ping.Ping, error) {
		gotPayload = payload
		assert.False(t, raw)
		return ping.New(pingType, "/submit/x", payload), nil
	}})

	_, err := execute(t, "", "queue", "--type", "event", "--file", path)
	require.NoError(t, err)
	assert.Equal(t, `{"from":"file"}`, string(gotPayload))
}

func TestQueueCmd_Errors(t *testing.T) {
	useStub(t, &stubRuntime{queueFn: func(string, []byte, bool) (*ping.Ping, error) {
		return nil, scheduler.ErrNotQueued
	}})

	_, err := execute(t, "{}", "queue")
	require.Error(t, err, "--type is required")

	_, err = execute(t, "", "queue", "--type", "core", "--file", filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read payload")

	_, err = execute(t, "{}", "queue", "--type", "core")
	assert.ErrorIs(t, err, scheduler.ErrNotQueued)
}

func TestStatusCmd_PrintsJSON(t *testing.T) {
	useStub(t, &stubRuntime{status: scheduler.Status{
		QuotaLimit: 100,
		Types:      []scheduler.TypeStatus{{Type: "core", Pending: 3, QuotaUsed: 1, QuotaRemaining: 99}},
	}})

	out, err := execute(t, "", "status")
	require.NoError(t, err)

	var st scheduler.Status
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, 100, st.QuotaLimit)
	require.Len(t, st.Types, 1)
	assert.Equal(t, 3, st.Types[0].Pending)
}

func TestSyncCmd(t *testing.T) {
	var gotSince int64
	var gotSort resume.Sort
	useStub(t, &stubRuntime{syncFn: func(_ context.Context, collection string, since int64, sort resume.Sort) (download.Summary, error) {
		assert.Equal(t, "bookmarks", collection)
		gotSince, gotSort = since, sort
		return download.Summary{Pages: 2, Fetched: 5, Stored: 5, LastModified: 99}, nil
	}})

	out, err := execute(t, "", "sync", "--collection", "bookmarks", "--since", "1234", "--sort", "newest")
	require.NoError(t, err)
	assert.Equal(t, int64(1234), gotSince)
	assert.Equal(t, resume.Newest, gotSort)
	assert.Contains(t, out, "bookmarks: pages=2 fetched=5 stored=5 resumed=false failures=false last_modified=99")
}

func TestSyncCmd_Errors(t *testing.T) {
	useStub(t, &stubRuntime{syncFn: func(context.Context, string, int64, resume.Sort) (download.Summary, error) {
		return download.Summary{Pages: 1}, download.ErrBatchFailed
	}})

	_, err := execute(t, "", "sync", "--collection", "c", "--sort", "sideways")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown sort")

	_, err = execute(t, "", "sync", "--collection", "c")
	require.ErrorIs(t, err, download.ErrBatchFailed)
	assert.Contains(t, err.Error(), "run sync again")
}

func TestRunHealthcheck_LoadConfigError(t *testing.T) {
	installMainSeams(t)
	loadConfig = func() (*config.Config, error) {
		return nil, errors.New("bad config")
	}

	err := runHealthcheck(nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration error")
}

func TestRunHealthcheck_RuntimeInitError(t *testing.T) {
	useStub(t, nil)
	newRuntime = func(*config.Config) (appRuntime, error) {
		return nil, errors.New("boom")
	}

	err := runHealthcheck(nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestRunHealthcheck_CallsHealthyAndClose(t *testing.T) {
	rt := &stubRuntime{
		healthFn: func(ctx context.Context) error {
			deadline, ok := ctx.Deadline()
			require.True(t, ok)
			assert.WithinDuration(t, time.Now().Add(10*time.Second), deadline, 500*time.Millisecond)
			return nil
		},
	}
	useStub(t, rt)

	err := runHealthcheck(nil, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, rt.closeN.Load())
}

func TestReadPayload(t *testing.T) {
	b, err := readPayload(strings.NewReader("stdin body"), "-")
	require.NoError(t, err)
	assert.Equal(t, "stdin body", string(b))

	b, err = readPayload(strings.NewReader("also stdin"), "")
	require.NoError(t, err)
	assert.Equal(t, "also stdin", string(b))
}

func TestInitLogging_SetsExpectedGlobalLevel(t *testing.T) {
	tests := []struct {
		level string
		want  zerolog.Level
	}{
		{level: "trace", want: zerolog.TraceLevel},
		{level: "debug", want: zerolog.DebugLevel},
		{level: "warn", want: zerolog.WarnLevel},
		{level: "warning", want: zerolog.WarnLevel},
		{level: "error", want: zerolog.ErrorLevel},
		{level: "info", want: zerolog.InfoLevel},
		{level: "nope", want: zerolog.InfoLevel},
	}

	for _, tc := range tests {
		t.Run(tc.level, func(t *testing.T) {
			initLogging(tc.level, "json")
			assert.Equal(t, tc.want, zerolog.GlobalLevel())
		})
	}
}

func TestInitLogging_TextFormat(t *testing.T) {
	assert.NotPanics(t, func() {
		initLogging("info", "text")
	})
}

func TestMain_SubprocessVersion_ExitZero(t *testing.T) {
	cmd := exec.Command(os.Args[0], "-test.run=TestMain_SubprocessHelper")
	cmd.Env = append(os.Environ(),
		"GO_WANT_MAIN_PROCESS=1",
		"MAIN_TEST_CASE=version",
	)
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, string(out))
	assert.Contains(t, string(out), "pingrelay")
}

func TestMain_SubprocessConfigError_ExitOne(t *testing.T) {
	cmd := exec.Command(os.Args[0], "-test.run=TestMain_SubprocessHelper")
	cmd.Env = append(os.Environ(),
		"GO_WANT_MAIN_PROCESS=1",
		"MAIN_TEST_CASE=config-error",
		"SERVER_ENDPOINT=",
		"CONFIG_FILE=",
	)
	out, err := cmd.CombinedOutput()
	require.Error(t, err, "expected os.Exit(1)")
	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 1, exitErr.ExitCode())
	assert.True(t, strings.Contains(string(out), "fatal") || strings.Contains(string(out), "configuration"))
}

func TestMain_SubprocessHelper(t *testing.T) {
	if os.Getenv("GO_WANT_MAIN_PROCESS") != "1" {
		return
	}

	switch os.Getenv("MAIN_TEST_CASE") {
	case "version":
		os.Args = []string{"pingrelay", "version"}
	case "config-error":
		os.Args = []string{"pingrelay"}
	default:
		t.Fatalf("unknown MAIN_TEST_CASE")
	}

	main()
}

func TestDefaultSeams_AreCallable(t *testing.T) {
	ctx, cancel := newSignalContext(context.Background())
	cancel()
	<-ctx.Done()

	cfg := &config.Config{
		ServerEndpoint:   "http://127.0.0.1:1",
		MaxUploadsPerDay: 1,
		InitialBackoff:   time.Second,
		MaxBackoff:       time.Minute,
		PingTypes:        []string{"core"},
		DrainSchedule:    "* * * * *",
		JanitorInterval:  time.Minute,
		SyncPageSize:     10,
		DataDir:          t.TempDir(),
	}
	rt, err := newRuntime(cfg)
	require.NoError(t, err)
	rt.Close()
}
