// Package httpkit builds the two kinds of outbound client Hearth needs:
// short, retrying calls to Home Assistant on the local network and long
// completion calls to Anthropic whose deadline is the chat turn.
package httpkit

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/nugget/hearth/internal/buildinfo"
)

// Defaults for every client.
const (
	DefaultTimeout       = 30 * time.Second
	DefaultHeaderTimeout = 15 * time.Second
	dialTimeout          = 10 * time.Second
	tlsTimeout           = 10 * time.Second
	idleTimeout          = 90 * time.Second
	maxIdle              = 20
	maxIdlePerHost       = 5
)

// ClientOption configures a client built by NewClient.
type ClientOption func(*clientConfig)

type clientConfig struct {
	timeout       time.Duration
	headerTimeout time.Duration
	userAgent     string
	redials       int
	redialDelay   time.Duration
	logger        *slog.Logger
}

// WithTimeout sets the whole-request timeout. Zero leaves the deadline
// to the request context, which is how chat turns bound completions.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) { c.timeout = d }
}

// WithHeaderTimeout bounds the wait for response headers. Completions
// with a large home context need far longer than the default.
func WithHeaderTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) { c.headerTimeout = d }
}

// WithUserAgent replaces the hearth/<version> User-Agent.
func WithUserAgent(ua string) ClientOption {
	return func(c *clientConfig) { c.userAgent = ua }
}

// WithDialRetry redials up to n times when the connection could not be
// opened at all. Home Assistant service calls are POSTs, and a refused
// or unrouted dial never delivered them, so a redial cannot turn a
// light on twice. Bodies must be rewindable to be redialled.
func WithDialRetry(n int, delay time.Duration) ClientOption {
	return func(c *clientConfig) {
		c.redials = n
		c.redialDelay = delay
	}
}

// WithLogger logs each redial at debug level.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *clientConfig) { c.logger = l }
}

// NewClient builds an *http.Client with its own pooled transport.
func NewClient(opts ...ClientOption) *http.Client {
	cfg := &clientConfig{
		timeout:       DefaultTimeout,
		headerTimeout: DefaultHeaderTimeout,
		userAgent:     buildinfo.UserAgent(),
	}
	for _, o := range opts {
		o(cfg)
	}

	var rt http.RoundTripper = &userAgentTransport{base: newTransport(cfg.headerTimeout), ua: cfg.userAgent}
	if cfg.redials > 0 {
		rt = &redialTransport{
			base:   rt,
			count:  cfg.redials,
			delay:  cfg.redialDelay,
			logger: cfg.logger,
		}
	}
	return &http.Client{Timeout: cfg.timeout, Transport: rt}
}

func newTransport(headerTimeout time.Duration) *http.Transport {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   tlsTimeout,
		ResponseHeaderTimeout: headerTimeout,
		IdleConnTimeout:       idleTimeout,
		MaxIdleConns:          maxIdle,
		MaxIdleConnsPerHost:   maxIdlePerHost,
		ForceAttemptHTTP2:     true,
	}
}

type userAgentTransport struct {
	base http.RoundTripper
	ua   string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return t.base.RoundTrip(req)
	}
	// The caller's request is shared; stamp a clone.
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.ua)
	return t.base.RoundTrip(req)
}

type redialTransport struct {
	base   http.RoundTripper
	count  int
	delay  time.Duration
	logger *slog.Logger
}

func (t *redialTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	rewindable := req.Body == nil || req.Body == http.NoBody || req.GetBody != nil

	for attempt := 1; attempt <= t.count && err != nil && dialFailed(err) && rewindable; attempt++ {
		if t.logger != nil {
			t.logger.Debug("redialling after connect failure",
				"method", req.Method,
				"url", req.URL.Redacted(),
				"attempt", attempt,
				"error", err,
			)
		}

		timer := time.NewTimer(t.delay)
		select {
		case <-req.Context().Done():
			timer.Stop()
			return nil, req.Context().Err()
		case <-timer.C:
		}

		again := req.Clone(req.Context())
		if req.GetBody != nil {
			body, bodyErr := req.GetBody()
			if bodyErr != nil {
				return nil, fmt.Errorf("redial: rewind body: %w", bodyErr)
			}
			again.Body = body
		}
		resp, err = t.base.RoundTrip(again)
	}
	return resp, err
}

// dialFailed reports errors raised before the request left the host.
// A reset connection does not count: Home Assistant may already have
// run the service.
func dialFailed(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}
	return errno == syscall.EHOSTUNREACH || errno == syscall.ENETUNREACH || errno == syscall.ECONNREFUSED
}

// DrainAndClose discards up to limit bytes of rc and closes it, so the
// keep-alive connection can be reused for the next Home Assistant call.
func DrainAndClose(rc io.ReadCloser, limit int64) {
	if rc == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, limit))
	rc.Close()
}

// ReadErrorBody returns at most limit bytes of a failed response for
// APIError and UpstreamError messages, then releases the body.
func ReadErrorBody(rc io.ReadCloser, limit int64) string {
	if rc == nil {
		return ""
	}
	body, err := io.ReadAll(io.LimitReader(rc, limit))
	DrainAndClose(rc, 1024)
	if err != nil {
		return fmt.Sprintf("(failed to read error body: %v)", err)
	}
	return string(body)
}
