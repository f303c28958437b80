// Package httpkit builds the outbound HTTP clients the concierge uses
// to reach LLM providers and payment APIs. Every client shares the same
// transport defaults (dial/TLS/header timeouts, a small idle pool) and
// identifies itself with the daemon's User-Agent, so provider-side logs
// and rate limiters see one consistent caller.
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

	"github.com/voyagehq/concierge-agent/internal/buildinfo"
)

// Transport defaults. These bound every phase of an outbound call so a
// hung provider cannot hold a conversation turn open indefinitely.
const (
	DefaultDialTimeout         = 10 * time.Second
	DefaultKeepAlive           = 30 * time.Second
	DefaultTLSHandshakeTimeout = 10 * time.Second
	DefaultResponseHeader      = 15 * time.Second
	DefaultIdleConnTimeout     = 90 * time.Second
	DefaultMaxIdleConns        = 20
	DefaultMaxIdleConnsPerHost = 5
)

// NewTransport returns an http.Transport carrying the shared defaults.
// LLM clients grab one of these and stretch ResponseHeaderTimeout for
// long generations.
func NewTransport() *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   DefaultDialTimeout,
			KeepAlive: DefaultKeepAlive,
		}).DialContext,
		TLSHandshakeTimeout:   DefaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: DefaultResponseHeader,
		IdleConnTimeout:       DefaultIdleConnTimeout,
		MaxIdleConns:          DefaultMaxIdleConns,
		MaxIdleConnsPerHost:   DefaultMaxIdleConnsPerHost,
		ForceAttemptHTTP2:     true,
	}
}

// ClientOption configures a client built by NewClient.
type ClientOption func(*clientConfig)

type clientConfig struct {
	timeout    time.Duration
	transport  *http.Transport
	retryCount int
	retryDelay time.Duration
}

// WithTimeout sets the whole-request timeout. Zero disables it, which
// the streaming LLM clients need for long generations.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) { c.timeout = d }
}

// WithTransport substitutes a caller-tuned transport for the default.
func WithTransport(t *http.Transport) ClientOption {
	return func(c *clientConfig) { c.transport = t }
}

// WithRetry retries requests that die on transient dial-level errors
// (host/network unreachable, connection refused), waiting delay between
// attempts. Only requests whose body can be rewound via GetBody are
// retried; the retryable error set occurs before any bytes reach the
// server, so a retry cannot duplicate a side effect.
func WithRetry(count int, delay time.Duration) ClientOption {
	return func(c *clientConfig) {
		c.retryCount = count
		c.retryDelay = delay
	}
}

// NewClient builds an *http.Client on the shared transport. The
// daemon's User-Agent is injected on every request that does not set
// its own. Default timeout is 30 seconds.
func NewClient(opts ...ClientOption) *http.Client {
	cfg := &clientConfig{timeout: 30 * time.Second}
	for _, o := range opts {
		o(cfg)
	}

	transport := cfg.transport
	if transport == nil {
		transport = NewTransport()
	}

	var rt http.RoundTripper = &userAgentTransport{
		base: transport,
		ua:   buildinfo.UserAgent(),
	}
	if cfg.retryCount > 0 {
		rt = &retryTransport{
			base:   rt,
			count:  cfg.retryCount,
			delay:  cfg.retryDelay,
			logger: slog.Default(),
		}
	}

	return &http.Client{
		Timeout:   cfg.timeout,
		Transport: rt,
	}
}

// userAgentTransport stamps the daemon's User-Agent onto requests that
// carry none. The request is cloned first; RoundTrippers must not
// mutate their input.
type userAgentTransport struct {
	base http.RoundTripper
	ua   string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.ua)
	}
	return t.base.RoundTrip(req)
}

// retryTransport re-issues requests that failed with a retryable
// connection error. It refuses to retry a request whose body it cannot
// rewind.
type retryTransport struct {
	base   http.RoundTripper
	count  int
	delay  time.Duration
	logger *slog.Logger
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err == nil || !isRetryableError(err) {
		return resp, err
	}

	// http.NoBody counts as bodiless; GET/HEAD/DELETE land here.
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		return resp, err
	}

	for attempt := 1; attempt <= t.count; attempt++ {
		if t.logger != nil {
			t.logger.Debug("retrying after transient connection error",
				"method", req.Method,
				"url", req.URL.String(),
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

		retryReq := req.Clone(req.Context())
		if req.GetBody != nil {
			body, bodyErr := req.GetBody()
			if bodyErr != nil {
				return nil, fmt.Errorf("retry: rewind body: %w", bodyErr)
			}
			retryReq.Body = body
		}

		resp, err = t.base.RoundTrip(retryReq)
		if err == nil || !isRetryableError(err) {
			return resp, err
		}
	}
	return resp, err
}

// isRetryableError reports whether err is a dial-phase failure that
// happened before the server saw any bytes. ECONNRESET stays excluded:
// it can arrive after the server processed the request, and retrying
// would risk a duplicate side effect (a second Stripe invoice).
func isRetryableError(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		var opErr *net.OpError
		if !errors.As(err, &opErr) || !errors.As(opErr.Err, &errno) {
			return false
		}
	}
	switch errno {
	case syscall.EHOSTUNREACH, syscall.ENETUNREACH, syscall.ECONNREFUSED:
		return true
	}
	return false
}

// DrainAndClose consumes up to limit bytes of rc and closes it, so the
// underlying connection returns to the pool instead of being torn down.
func DrainAndClose(rc io.ReadCloser, limit int64) {
	if rc == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, limit))
	rc.Close()
}

// ReadErrorBody captures up to limit bytes of an error response for a
// message, then drains and closes the rest. Nil rc yields "".
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
