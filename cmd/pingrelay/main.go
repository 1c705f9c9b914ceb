package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Floorp-Projects/Floorp-sub093/internal/config"
	"github.com/Floorp-Projects/Floorp-sub093/internal/download"
	"github.com/Floorp-Projects/Floorp-sub093/internal/logger"
	"github.com/Floorp-Projects/Floorp-sub093/internal/metrics"
	"github.com/Floorp-Projects/Floorp-sub093/internal/ping"
	"github.com/Floorp-Projects/Floorp-sub093/internal/resume"
	"github.com/Floorp-Projects/Floorp-sub093/internal/scheduler"
	"github.com/Floorp-Projects/Floorp-sub093/internal/telemetry"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// appRuntime is the subset of *scheduler.Runtime the commands use.
type appRuntime interface {
	Run(ctx context.Context) error
	DrainOnce(ctx context.Context) []telemetry.Result
	Queue(pingType string, payload []byte, raw bool) (*ping.Ping, error)
	Purge(pingType string) (int, error)
	Status() scheduler.Status
	Sync(ctx context.Context, collection string, since int64, sort resume.Sort) (download.Summary, error)
	Healthy(ctx context.Context) error
	Close()
}

// Seams replaced by tests.
var (
	loadConfig       = config.Load
	registerMetrics  = metrics.Register
	newSignalContext = func(parent context.Context) (context.Context, context.CancelFunc) {
		return signal.NotifyContext(parent, syscall.SIGTERM, syscall.SIGINT)
	}
	newRuntime = func(cfg *config.Config) (appRuntime, error) {
		return scheduler.New(cfg)
	}
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("fatal")
		os.Exit(1)
	}
}

// newRootCmd builds and returns the root cobra command. Extracted from main so
// that tests can invoke it directly without spawning a subprocess.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pingrelay",
		Short: "Queue telemetry pings on disk and upload them under a daily quota",
		Long: `pingrelay stores telemetry pings in an on-disk spool, uploads them to a
submission server in order under a per-type daily quota with backoff, and
runs resumable batched downloads from a sync server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runDaemon,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Start the drain scheduler (same as running without a subcommand)",
		RunE:  runDaemon,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "drain",
		Short: "Drain every configured ping type once, ignoring backoff",
		RunE:  runDrain,
	})

	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Queue a ping from a file or stdin",
		RunE:  runQueue,
	}
	queueCmd.Flags().String("type", "", "ping type (required)")
	queueCmd.Flags().String("file", "-", `payload file, "-" for stdin`)
	queueCmd.Flags().Bool("raw", false, "send the payload as is instead of wrapping it in a document")
	_ = queueCmd.MarkFlagRequired("type")
	rootCmd.AddCommand(queueCmd)

	purgeCmd := &cobra.Command{
		Use:   "purge",
		Short: "Discard every queued ping of a type without uploading it",
		RunE:  runPurge,
	}
	purgeCmd.Flags().String("type", "", "ping type (required)")
	_ = purgeCmd.MarkFlagRequired("type")
	rootCmd.AddCommand(purgeCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print spool, quota and backoff state as JSON",
		RunE:  runStatus,
	})

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Download a collection from the sync server, resuming if possible",
		RunE:  runSync,
	}
	syncCmd.Flags().String("collection", "", "collection name (required)")
	syncCmd.Flags().Int64("since", 0, "only records modified after this time (ms since epoch)")
	syncCmd.Flags().String("sort", "oldest", "oldest or newest")
	_ = syncCmd.MarkFlagRequired("collection")
	rootCmd.AddCommand(syncCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "healthcheck",
		Short: "Check the state database and submission server (for Docker HEALTHCHECK)",
		RunE:  runHealthcheck,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pingrelay %s (commit: %s, built: %s)\n", version, commit, date)
		},
	})

	return rootCmd
}

// setup loads configuration, initialises logging at level (or the configured
// level when empty) and builds the runtime.
func setup(level string) (appRuntime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	cfg.BuildVersion = version

	if level == "" {
		level = cfg.LogLevel
	}
	initLogging(level, cfg.LogFormat)

	rt, err := newRuntime(cfg)
	if err != nil {
		return nil, fmt.Errorf("runtime init: %w", err)
	}
	return rt, nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	cfg.BuildVersion = version

	initLogging(cfg.LogLevel, cfg.LogFormat)

	registerMetrics()

	ctx, cancel := newSignalContext(context.Background())
	defer cancel()

	rt, err := newRuntime(cfg)
	if err != nil {
		return fmt.Errorf("runtime init: %w", err)
	}
	defer rt.Close()

	return rt.Run(ctx)
}

func runDrain(cmd *cobra.Command, args []string) error {
	rt, err := setup("")
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := newSignalContext(context.Background())
	defer cancel()

	var blocked int
	for _, res := range rt.DrainOnce(ctx) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (attempted=%d uploaded=%d rejected=%d remaining=%d)\n",
			res.Type, res.State, res.Attempted, res.Uploaded, res.Rejected, res.Remaining)
		if res.State == telemetry.BlockedOnRetryable {
			blocked++
		}
	}
	if blocked > 0 {
		return fmt.Errorf("%d ping type(s) blocked on a retryable failure", blocked)
	}
	return nil
}

func runQueue(cmd *cobra.Command, args []string) error {
	pingType, _ := cmd.Flags().GetString("type")
	path, _ := cmd.Flags().GetString("file")
	raw, _ := cmd.Flags().GetBool("raw")

	payload, err := readPayload(cmd.InOrStdin(), path)
	if err != nil {
		return err
	}

	rt, err := setup("")
	if err != nil {
		return err
	}
	defer rt.Close()

	p, err := rt.Queue(pingType, payload, raw)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), p.DocumentID)
	return nil
}

func readPayload(stdin io.Reader, path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(stdin)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return b, nil
}

func runPurge(cmd *cobra.Command, args []string) error {
	pingType, _ := cmd.Flags().GetString("type")

	rt, err := setup("")
	if err != nil {
		return err
	}
	defer rt.Close()

	n, err := rt.Purge(pingType)
	fmt.Fprintf(cmd.OutOrStdout(), "%s: purged %d\n", pingType, n)
	return err
}

func runStatus(cmd *cobra.Command, args []string) error {
	rt, err := setup("error")
	if err != nil {
		return err
	}
	defer rt.Close()

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(rt.Status())
}

func runSync(cmd *cobra.Command, args []string) error {
	collection, _ := cmd.Flags().GetString("collection")
	since, _ := cmd.Flags().GetInt64("since")
	sortFlag, _ := cmd.Flags().GetString("sort")

	sort, err := resume.ParseSort(sortFlag)
	if err != nil {
		return err
	}

	rt, err := setup("")
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := newSignalContext(context.Background())
	defer cancel()

	sum, err := rt.Sync(ctx, collection, since, sort)
	fmt.Fprintf(cmd.OutOrStdout(), "%s: pages=%d fetched=%d stored=%d resumed=%t failures=%t last_modified=%d\n",
		collection, sum.Pages, sum.Fetched, sum.Stored, sum.Resumed, sum.Failures, sum.LastModified)
	if errors.Is(err, download.ErrBatchFailed) {
		return fmt.Errorf("%w (run sync again to resume)", err)
	}
	return err
}

func runHealthcheck(cmd *cobra.Command, args []string) error {
	rt, err := setup("error")
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return rt.Healthy(ctx)
}

func initLogging(level string, format string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	redacted := logger.NewRedactWriter(os.Stderr)
	if format == "text" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: redacted})
	} else {
		log.Logger = zerolog.New(redacted).With().Timestamp().Logger()
	}

	switch level {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn", "warning":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
