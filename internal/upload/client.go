package upload

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Floorp-Projects/Floorp-sub093/internal/metrics"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultReadTimeout    = 30 * time.Second
	defaultUserAgent      = "pingrelay"
	maxResponseBytes      = 4096
)

// ClientConfig holds configuration for the submission client.
type ClientConfig struct {
	Endpoint       string
	UserAgent      string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	TLSSkipVerify  bool
	// Now stamps the Date header; defaults to time.Now.
	Now func() time.Time
}

// Client posts pings to <Endpoint><path>.
type Client struct {
	endpoint   string
	userAgent  string
	httpClient *http.Client
	now        func() time.Time
}

// Compile-time interface check.
var _ Uploader = (*Client)(nil)

// NewClient creates a submission client. Zero timeouts fall back to defaults.
func NewClient(cfg ClientConfig) *Client {
	connect := cfg.ConnectTimeout
	if connect <= 0 {
		connect = defaultConnectTimeout
	}
	read := cfg.ReadTimeout
	if read <= 0 {
		read = defaultReadTimeout
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: connect}).DialContext,
		TLSHandshakeTimeout:   connect,
		ResponseHeaderTimeout: read,
		TLSClientConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: cfg.TLSSkipVerify, //nolint:gosec // operator opt-in
		},
	}

	return &Client{
		endpoint:  strings.TrimRight(cfg.Endpoint, "/"),
		userAgent: ua,
		now:       now,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   connect + read,
		},
	}
}

// Upload posts body and maps the response to an Outcome.
func (c *Client) Upload(ctx context.Context, path string, body []byte) Result {
	target, err := c.target(path)
	if err != nil {
		metrics.UploadErrors.WithLabelValues("malformed_url").Inc()
		log.Error().Err(err).Str("path", path).Msg("malformed upload target")
		return Result{Outcome: PermanentClientError, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		metrics.UploadErrors.WithLabelValues("malformed_url").Inc()
		return Result{Outcome: PermanentClientError, Err: err}
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Date", c.now().UTC().Format(http.TimeFormat))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		kind := "network"
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			kind = "timeout"
		}
		metrics.UploadErrors.WithLabelValues(kind).Inc()
		return Result{Outcome: RetryableServerError, Err: fmt.Errorf("upload %s: %w", path, err)}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	return classify(resp.StatusCode)
}

func (c *Client) target(path string) (string, error) {
	raw := c.endpoint + path
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("invalid upload url %q", raw)
	}
	return u.String(), nil
}

func classify(code int) Result {
	switch {
	case code >= 200 && code < 300:
		return Result{Outcome: Success, StatusCode: code}
	case code >= 400 && code < 500:
		metrics.UploadErrors.WithLabelValues("client").Inc()
		return Result{Outcome: PermanentClientError, StatusCode: code, Err: fmt.Errorf("rejected: http %d", code)}
	default:
		metrics.UploadErrors.WithLabelValues("server").Inc()
		return Result{Outcome: RetryableServerError, StatusCode: code, Err: fmt.Errorf("unexpected http %d", code)}
	}
}

// Healthy reports whether the submission server answers at all. Any response
// below 500 counts as reachable.
func (c *Client) Healthy(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/", nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("submission server unreachable: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode >= 500 {
		return fmt.Errorf("submission server unhealthy: http %d", resp.StatusCode)
	}
	return nil
}
