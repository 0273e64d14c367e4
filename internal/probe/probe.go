// Package probe implements the four stateless probes (HTTP, TCP, DNS, TLS).
// Each turns a target into a Result; no probe touches the datastore.
package probe

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/vigil-mon/vigil/internal/model"
)

// Error kind tokens recorded on failed probes. Transient kinds are retried
// inside the probe; semantic kinds are not.
const (
	ErrKindTimeout    = "timeout"
	ErrKindConnection = "connection"
	ErrKindDNS        = "dns"
	ErrKindNXDomain   = "nxdomain"
	ErrKindNoAnswer   = "no_answer"
	ErrKindStatus     = "status"
	ErrKindContent    = "content"
	ErrKindTLS        = "tls"
	ErrKindInvalid    = "invalid_target"
	ErrKindEngine     = "engine"
)

// TLSInfo carries certificate metadata separately from the header capture.
type TLSInfo struct {
	Issuer        string
	Subject       string
	NotBefore     time.Time
	NotAfter      time.Time
	DaysRemaining int
}

// Result is the outcome of one probe.
type Result struct {
	Success      bool
	StatusCode   int
	ResponseTime float64 // seconds; -1 when not measured
	ResponseSize int64
	ErrorKind    string
	ErrorMessage string
	DNSTime      float64
	ConnectTime  float64
	IPAddress    string
	TLSVerified  *bool
	TLSError     string
	Retries      int
	Headers      map[string]string
	TLS          *TLSInfo
}

func failure(kind string, err error) *Result {
	return &Result{
		Success:      false,
		ResponseTime: -1,
		ErrorKind:    kind,
		ErrorMessage: err.Error(),
	}
}

// Options are process-wide probe defaults; per-target settings override them.
type Options struct {
	DefaultTimeout time.Duration
	MaxRetries     int
	RetryDelay     time.Duration
	UserAgent      string
	DNSServer      string // host:port fallback when resolv.conf is unusable
	ExpectedStatus []int  // success statuses for targets that set none
}

// Runner dispatches targets to the probe for their kind.
type Runner struct {
	opts Options
}

// NewRunner returns a Runner with the given defaults.
func NewRunner(opts Options) *Runner {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 30 * time.Second
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 2 * time.Second
	}
	return &Runner{opts: opts}
}

// Do runs the probe matching the target's kind. The total wall-clock time is
// bounded by timeout*(retries+1) plus the retry delays.
func (r *Runner) Do(ctx context.Context, t *model.Target) *Result {
	switch t.Kind {
	case model.KindHTTP, model.KindHTTPS:
		return r.probeHTTP(ctx, t)
	case model.KindTCP:
		return r.probeTCP(ctx, t)
	case model.KindDNS:
		return r.probeDNS(ctx, t)
	case model.KindTLS:
		return r.probeTLS(ctx, t)
	default:
		return failure(ErrKindInvalid, fmt.Errorf("unknown target kind %q", t.Kind))
	}
}

// retries returns the per-target retry budget, falling back to the default.
func (r *Runner) retries(t *model.Target) int {
	if t.RetryCount > 0 {
		return t.RetryCount
	}
	return r.opts.MaxRetries
}

// retryDelay returns the base delay before attempt n+1; the caller doubles it
// per attempt.
func (r *Runner) retryDelay(t *model.Target) time.Duration {
	if t.RetryDelaySec > 0 {
		return time.Duration(t.RetryDelaySec) * time.Second
	}
	return r.opts.RetryDelay
}

// expectedStatus resolves the success-status set: the target's own codes,
// then the runner default, then {200}.
func (r *Runner) expectedStatus(t *model.Target) []int {
	if len(t.ExpectedCodes) > 0 {
		return t.ExpectedCodes
	}
	if len(r.opts.ExpectedStatus) > 0 {
		return r.opts.ExpectedStatus
	}
	return []int{200}
}

// sleepRetry waits the backoff delay for attempt (1-based), aborting early on
// context cancellation.
func sleepRetry(ctx context.Context, base time.Duration, attempt int) error {
	d := base << (attempt - 1)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// hostPort extracts host:port from a target URL, applying defaultPort when
// the URL names none. Accepts bare "host", "host:port", and full URLs.
func hostPort(raw string, defaultPort string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("empty target url")
	}
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return "", fmt.Errorf("parse url %q: %w", raw, err)
		}
		host := u.Hostname()
		if host == "" {
			return "", fmt.Errorf("url %q has no host", raw)
		}
		port := u.Port()
		if port == "" {
			port = defaultPort
		}
		return net.JoinHostPort(host, port), nil
	}
	if host, port, err := net.SplitHostPort(s); err == nil {
		return net.JoinHostPort(host, port), nil
	}
	return net.JoinHostPort(s, defaultPort), nil
}

// bareHost extracts just the hostname from a target URL.
func bareHost(raw string) (string, error) {
	hp, err := hostPort(raw, "0")
	if err != nil {
		return "", err
	}
	host, _, err := net.SplitHostPort(hp)
	if err != nil {
		return "", err
	}
	return host, nil
}
