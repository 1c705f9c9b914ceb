package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all runtime configuration.
type Config struct {
	// Submission server
	ServerEndpoint   string        `koanf:"server_endpoint"`
	UserAgent        string        `koanf:"user_agent"`
	ConnectTimeout   time.Duration `koanf:"connect_timeout"`
	ReadTimeout      time.Duration `koanf:"read_timeout"`
	MaxUploadsPerDay int           `koanf:"max_uploads_per_day"`
	InitialBackoff   time.Duration `koanf:"initial_backoff"`
	MaxBackoff       time.Duration `koanf:"max_backoff"`

	// Pings
	CollectionEnabled bool     `koanf:"collection_enabled"`
	UploadEnabled     bool     `koanf:"upload_enabled"`
	PingTypes         []string `koanf:"-"`
	MaxPingBytes      int      `koanf:"max_ping_bytes"`

	// Scheduling
	DrainSchedule   string        `koanf:"drain_schedule"`
	JanitorInterval time.Duration `koanf:"janitor_interval"`

	// Application identity used in submission paths
	AppName    string `koanf:"app_name"`
	AppVersion string `koanf:"app_version"`
	AppChannel string `koanf:"app_channel"`
	AppBuildID string `koanf:"app_build_id"`

	// Batched downloads
	SyncEndpoint string `koanf:"sync_endpoint"`
	SyncToken    string `koanf:"sync_token"`
	SyncPageSize int    `koanf:"sync_page_size"`

	// Operational
	LogLevel      string `koanf:"log_level"`
	LogFormat     string `koanf:"log_format"`
	DataDir       string `koanf:"data_dir"`
	MetricsAddr   string `koanf:"metrics_addr"` // "" = disabled
	TLSSkipVerify bool   `koanf:"tls_skip_verify"`

	// BuildVersion is set by the binary, not read from configuration.
	BuildVersion string `koanf:"-"`
}

// defaults is the lowest-priority layer.
var defaults = map[string]any{
	"server_endpoint":     "",
	"user_agent":          "",
	"connect_timeout":     10 * time.Second,
	"read_timeout":        30 * time.Second,
	"max_uploads_per_day": 100,
	"initial_backoff":     time.Minute,
	"max_backoff":         6 * time.Hour,
	"collection_enabled":  true,
	"upload_enabled":      true,
	"ping_types":          "core,event",
	"max_ping_bytes":      1 << 20,
	"drain_schedule":      "*/5 * * * *",
	"janitor_interval":    time.Minute,
	"app_name":            "pingrelay",
	"app_version":         "dev",
	"app_channel":         "release",
	"app_build_id":        "unknown",
	"sync_endpoint":       "",
	"sync_token":          "",
	"sync_page_size":      100,
	"log_level":           "info",
	"log_format":          "json",
	"data_dir":            "/data",
	"metrics_addr":        ":9090",
	"tls_skip_verify":     false,
}

var pingTypePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// Load reads configuration from (lowest → highest priority):
//  1. Built-in defaults
//  2. YAML file at CONFIG_FILE env var path (if set)
//  3. Environment variables (always highest priority)
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if err := k.Load(file.Provider(cfgFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load file %s: %w", cfgFile, err)
		}
	}

	// "SERVER_ENDPOINT" → "server_endpoint". Secret-file and toggle
	// variables are resolved below rather than mapped onto keys.
	if err := k.Load(env.Provider("", ".", func(s string) string {
		if strings.HasSuffix(s, "_FILE") || s == "METRICS_ENABLED" {
			return ""
		}
		return strings.ToLower(s)
	}), nil); err != nil {
		return nil, fmt.Errorf("config: load env: %w", err)
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	cfg.PingTypes = parseList(k.Get("ping_types"))

	cfg.ServerEndpoint = strings.TrimSpace(cfg.ServerEndpoint)
	cfg.SyncEndpoint = strings.TrimSpace(cfg.SyncEndpoint)
	cfg.DrainSchedule = strings.TrimSpace(cfg.DrainSchedule)
	cfg.LogLevel = strings.TrimSpace(strings.ToLower(cfg.LogLevel))
	cfg.LogFormat = strings.TrimSpace(strings.ToLower(cfg.LogFormat))

	if cfg.SyncToken == "" {
		cfg.SyncToken = readSecretFile(os.Getenv("SYNC_TOKEN_FILE"))
	}

	// METRICS_ENABLED=false switches the listener off regardless of METRICS_ADDR.
	if !envBool("METRICS_ENABLED", true) {
		cfg.MetricsAddr = ""
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	var errs []string

	if c.ServerEndpoint == "" {
		errs = append(errs, "SERVER_ENDPOINT is required (e.g., https://incoming.telemetry.example.org)")
	} else if !validURL(c.ServerEndpoint) {
		errs = append(errs, "SERVER_ENDPOINT must be an http or https URL")
	}
	if c.SyncEndpoint != "" && !validURL(c.SyncEndpoint) {
		errs = append(errs, "SYNC_ENDPOINT must be an http or https URL")
	}
	if c.ConnectTimeout < time.Second {
		errs = append(errs, "CONNECT_TIMEOUT must be at least 1s")
	}
	if c.ReadTimeout < time.Second {
		errs = append(errs, "READ_TIMEOUT must be at least 1s")
	}
	if c.MaxUploadsPerDay < 1 || c.MaxUploadsPerDay > 100000 {
		errs = append(errs, "MAX_UPLOADS_PER_DAY must be between 1 and 100000")
	}
	if c.InitialBackoff < time.Second {
		errs = append(errs, "INITIAL_BACKOFF must be at least 1s")
	}
	if c.MaxBackoff < c.InitialBackoff {
		errs = append(errs, "MAX_BACKOFF must not be less than INITIAL_BACKOFF")
	}
	if len(c.PingTypes) == 0 {
		errs = append(errs, "PING_TYPES must name at least one ping type")
	}
	for _, t := range c.PingTypes {
		if !pingTypePattern.MatchString(t) {
			errs = append(errs, fmt.Sprintf("PING_TYPES entry %q must match [a-z0-9_-]+", t))
		}
	}
	if c.MaxPingBytes < 1 {
		errs = append(errs, "MAX_PING_BYTES must be positive")
	}
	if !gronx.IsValid(c.DrainSchedule) {
		errs = append(errs, fmt.Sprintf("DRAIN_SCHEDULE %q is not a valid cron expression", c.DrainSchedule))
	} else if _, err := gronx.NextTickAfter(c.DrainSchedule, time.Now(), false); err != nil {
		errs = append(errs, fmt.Sprintf("DRAIN_SCHEDULE %q never fires", c.DrainSchedule))
	}
	if c.JanitorInterval < 10*time.Second {
		errs = append(errs, "JANITOR_INTERVAL must be at least 10s")
	}
	if c.SyncPageSize < 1 || c.SyncPageSize > 5000 {
		errs = append(errs, "SYNC_PAGE_SIZE must be between 1 and 5000")
	}

	// DataDir path sanitisation: reject traversal sequences and null bytes.
	if strings.Contains(c.DataDir, "..") {
		errs = append(errs, `DATA_DIR must not contain ".." (directory traversal)`)
	}
	if strings.ContainsRune(c.DataDir, 0) {
		errs = append(errs, "DATA_DIR must not contain null bytes")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%d configuration error(s):\n  - %s", len(errs), strings.Join(errs, "\n  - "))
	}
	return nil
}

// parseList accepts a comma-separated string (env) or a YAML sequence.
// Entries are trimmed, lowercased and deduplicated in order.
func parseList(v any) []string {
	var raw []string
	switch t := v.(type) {
	case string:
		raw = strings.Split(t, ",")
	case []string:
		raw = t
	case []any:
		for _, e := range t {
			raw = append(raw, fmt.Sprint(e))
		}
	}

	var out []string
	seen := make(map[string]bool, len(raw))
	for _, r := range raw {
		r = strings.ToLower(strings.TrimSpace(r))
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}

func validURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// readSecretFile returns the trimmed contents of path, or "" when path is
// empty or unreadable.
func readSecretFile(path string) string {
	if path == "" {
		return ""
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch v {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return fallback
	}
}
