// Package scheduler runs pingrelay: it owns the state database, the ping
// spool and the telemetry handle, drains each ping type on a cron schedule
// with per-type backoff, and serves metrics and health endpoints.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/Floorp-Projects/Floorp-sub093/internal/admit"
	"github.com/Floorp-Projects/Floorp-sub093/internal/config"
	"github.com/Floorp-Projects/Floorp-sub093/internal/download"
	"github.com/Floorp-Projects/Floorp-sub093/internal/ping"
	"github.com/Floorp-Projects/Floorp-sub093/internal/resume"
	"github.com/Floorp-Projects/Floorp-sub093/internal/storage"
	"github.com/Floorp-Projects/Floorp-sub093/internal/telemetry"
	"github.com/Floorp-Projects/Floorp-sub093/internal/upload"
)

var (
	// ErrSyncDisabled is returned by Sync when no sync endpoint is configured.
	ErrSyncDisabled = errors.New("scheduler: sync endpoint not configured")
	// ErrNotQueued is returned by Queue when a ping was refused or could not
	// be written.
	ErrNotQueued = errors.New("scheduler: ping not queued")
	// ErrDrainActive is returned by Purge while the type is being drained.
	ErrDrainActive = errors.New("scheduler: drain in progress")
)

// Option customises a Runtime.
type Option func(*options)

type options struct {
	uploader upload.Uploader
	fetcher  download.Fetcher
	now      func() time.Time
}

// WithUploader replaces the HTTP submission client.
func WithUploader(u upload.Uploader) Option { return func(o *options) { o.uploader = u } }

// WithFetcher replaces the HTTP sync fetcher and enables Sync without a
// configured endpoint.
func WithFetcher(f download.Fetcher) Option { return func(o *options) { o.fetcher = f } }

// WithClock replaces time.Now for quota days, backoff and scheduling.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// Runtime is a running pingrelay instance.
type Runtime struct {
	cfg        *config.Config
	store      storage.Store
	pings      ping.Store
	uploader   upload.Uploader
	tel        *telemetry.Telemetry
	downloader *download.Downloader // nil when sync is not configured
	app        ping.AppInfo
	now        func() time.Time

	guard   *guard
	backoff *backoff
	kick    chan struct{}
	drains  sync.WaitGroup

	httpSrv *http.Server // nil when MetricsAddr == ""
}

// New opens the state database under cfg.DataDir and wires every component.
func New(cfg *config.Config, opts ...Option) (*Runtime, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	dbPath := filepath.Join(cfg.DataDir, "state.db")
	store, err := storage.Open(dbPath, cfg.MaxUploadsPerDay)
	if err != nil {
		return nil, err
	}

	if o.uploader == nil {
		o.uploader = upload.NewClient(upload.ClientConfig{
			Endpoint:       cfg.ServerEndpoint,
			UserAgent:      userAgent(cfg),
			ConnectTimeout: cfg.ConnectTimeout,
			ReadTimeout:    cfg.ReadTimeout,
			TLSSkipVerify:  cfg.TLSSkipVerify,
			Now:            o.now,
		})
	}
	if o.fetcher == nil && cfg.SyncEndpoint != "" {
		o.fetcher = download.NewHTTPFetcher(download.HTTPConfig{
			Endpoint:      cfg.SyncEndpoint,
			UserAgent:     userAgent(cfg),
			Token:         cfg.SyncToken,
			Timeout:       cfg.ConnectTimeout + cfg.ReadTimeout,
			TLSSkipVerify: cfg.TLSSkipVerify,
		})
	}

	pings := ping.NewFileStore(cfg.DataDir)
	r := &Runtime{
		cfg:      cfg,
		store:    store,
		pings:    pings,
		uploader: o.uploader,
		app: ping.AppInfo{
			Name:    cfg.AppName,
			Version: cfg.AppVersion,
			Channel: cfg.AppChannel,
			BuildID: cfg.AppBuildID,
		},
		now:     o.now,
		guard:   newGuard(),
		backoff: newBackoff(cfg.InitialBackoff, cfg.MaxBackoff),
		kick:    make(chan struct{}, 1),
	}
	r.tel = telemetry.New(pings, store, o.uploader, telemetry.Options{
		Filters: buildFilters(cfg),
		Now:     o.now,
	})
	if o.fetcher != nil {
		r.downloader = download.New(o.fetcher, store, store, download.Options{PageSize: cfg.SyncPageSize})
	}

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		mux.HandleFunc("/readyz", func(w http.ResponseWriter, req *http.Request) {
			if err := r.Healthy(req.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		r.httpSrv = &http.Server{
			Addr:         cfg.MetricsAddr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  30 * time.Second,
		}
	}

	return r, nil
}

// userAgent is the configured user agent, or pingrelay/<build version>.
func userAgent(cfg *config.Config) string {
	if cfg.UserAgent != "" {
		return cfg.UserAgent
	}
	v := cfg.BuildVersion
	if v == "" {
		v = "dev"
	}
	return "pingrelay/" + v
}

// buildFilters constructs the ordered admission pipeline.
func buildFilters(cfg *config.Config) []admit.Filter {
	return []admit.Filter{
		admit.CollectionEnabled(cfg.CollectionEnabled),
		admit.TypeAllow(cfg.PingTypes...),
		admit.BodyRequired(),
		admit.MaxBodySize(cfg.MaxPingBytes),
		admit.JSONBody(),
		admit.UploadPathPrefix("/submit/"),
	}
}

// Queue wraps payload in a telemetry document (or, when raw, sends it as
// is) and stores it for upload. A successful queue wakes the drain loop.
func (r *Runtime) Queue(pingType string, payload []byte, raw bool) (*ping.Ping, error) {
	var p *ping.Ping
	if raw {
		p = ping.New(pingType, "", payload)
		p.UploadPath = ping.SubmissionPath(p.DocumentID, pingType, r.app)
	} else {
		var err error
		p, err = telemetry.NewDocumentPing(pingType, r.app, payload, r.now())
		if err != nil {
			return nil, err
		}
	}

	if !r.tel.Queue(p) {
		return nil, fmt.Errorf("%w: type %s", ErrNotQueued, pingType)
	}
	select {
	case r.kick <- struct{}{}:
	default:
	}
	return p, nil
}

// Purge drops every queued ping of pingType without uploading it.
func (r *Runtime) Purge(pingType string) (int, error) {
	if !ping.ValidType(pingType) {
		return 0, fmt.Errorf("%w: %q", ping.ErrInvalidType, pingType)
	}
	if !r.guard.acquire(pingType) {
		return 0, fmt.Errorf("%w: type %s", ErrDrainActive, pingType)
	}
	defer r.guard.release(pingType)

	n, ok := r.tel.Purge(pingType)
	if !ok {
		return n, fmt.Errorf("purge %s: stopped by a storage error after %d ping(s)", pingType, n)
	}
	return n, nil
}

// Sync downloads collection into the state database, resuming an earlier
// interrupted run with the same since and sort.
func (r *Runtime) Sync(ctx context.Context, collection string, since int64, sort resume.Sort) (download.Summary, error) {
	if r.downloader == nil {
		return download.Summary{}, ErrSyncDisabled
	}
	return r.downloader.Download(ctx, download.Request{
		Collection: collection,
		Since:      since,
		Sort:       sort,
	})
}

// Healthy checks that the state database is on disk and, when uploads are
// enabled, that the submission server answers.
func (r *Runtime) Healthy(ctx context.Context) error {
	if path := r.store.DBPath(); path != "" {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("state db: %w", err)
		}
	}
	if !r.cfg.UploadEnabled {
		return nil
	}
	if h, ok := r.uploader.(interface{ Healthy(context.Context) error }); ok {
		return h.Healthy(ctx)
	}
	return nil
}

// Close waits for in-flight drains and performs graceful shutdown.
func (r *Runtime) Close() {
	if r.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.httpSrv.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("metrics server shutdown error")
		}
	}
	r.drains.Wait()
	if err := r.store.Close(); err != nil {
		log.Warn().Err(err).Msg("store close failed")
	}
}
