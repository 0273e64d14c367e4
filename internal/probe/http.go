package probe

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"strings"
	"time"

	"golang.org/x/net/http/httpguts"

	"github.com/vigil-mon/vigil/internal/model"
)

const maxCapturedBody = 1 << 20 // content matching reads at most 1 MiB

// probeHTTP sends the configured method to the target URL, following
// redirects. Success requires an expected status code and, when configured,
// the expected substring in the body. Only transient network errors are
// retried; wrong status, content mismatch, and TLS verification failures
// are final.
func (r *Runner) probeHTTP(ctx context.Context, t *model.Target) *Result {
	timeout := t.Timeout(r.opts.DefaultTimeout)
	connectTimeout := timeout
	if connectTimeout > 10*time.Second {
		connectTimeout = 10 * time.Second
	}

	retries := r.retries(t)
	delay := r.retryDelay(t)

	var last *Result
	for attempt := 0; ; attempt++ {
		res := r.httpAttempt(ctx, t, timeout, connectTimeout)
		res.Retries = attempt
		if res.Success || !transientKind(res.ErrorKind) || attempt >= retries {
			return res
		}
		last = res
		if err := sleepRetry(ctx, delay, attempt+1); err != nil {
			last.Retries = attempt
			return last
		}
	}
}

func (r *Runner) httpAttempt(ctx context.Context, t *model.Target, timeout, connectTimeout time.Duration) *Result {
	res := &Result{ResponseTime: -1, Headers: map[string]string{}}

	method := t.HTTPMethod
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if t.RequestBody != "" {
		body = strings.NewReader(t.RequestBody)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, t.URL, body)
	if err != nil {
		return failure(ErrKindInvalid, err)
	}
	req.Header.Set("User-Agent", r.opts.UserAgent)
	for k, v := range t.Headers {
		// dns.* keys configure the DNS probe, never outbound headers.
		if strings.HasPrefix(k, "dns.") || !httpguts.ValidHeaderFieldName(k) {
			continue
		}
		req.Header.Set(k, v)
	}

	var dnsStart, connStart time.Time
	trace := &httptrace.ClientTrace{
		DNSStart: func(httptrace.DNSStartInfo) { dnsStart = time.Now() },
		DNSDone: func(httptrace.DNSDoneInfo) {
			if !dnsStart.IsZero() {
				res.DNSTime = time.Since(dnsStart).Seconds()
			}
		},
		ConnectStart: func(string, string) { connStart = time.Now() },
		ConnectDone: func(network, addr string, err error) {
			if err == nil {
				if !connStart.IsZero() {
					res.ConnectTime = time.Since(connStart).Seconds()
				}
				if host, _, splitErr := net.SplitHostPort(addr); splitErr == nil {
					res.IPAddress = host
				}
			}
		},
	}
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), trace))

	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: connectTimeout}).DialContext,
		TLSHandshakeTimeout:   connectTimeout,
		ResponseHeaderTimeout: timeout,
		DisableKeepAlives:     true,
	}
	client := &http.Client{Transport: transport, Timeout: timeout}
	defer transport.CloseIdleConnections()

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return classifyHTTPError(res, err)
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxCapturedBody))
	elapsed := time.Since(start).Seconds()
	if readErr != nil {
		res.ErrorKind = classifyNetKind(readErr)
		res.ErrorMessage = fmt.Sprintf("read body: %v", readErr)
		return res
	}
	// Drain the remainder so ResponseSize reflects the full payload.
	extra, _ := io.Copy(io.Discard, resp.Body)

	res.StatusCode = resp.StatusCode
	res.ResponseSize = int64(len(raw)) + extra
	res.ResponseTime = elapsed
	for _, k := range []string{"Server", "Content-Type", "Location"} {
		if v := resp.Header.Get(k); v != "" {
			res.Headers[strings.ToLower(k)] = v
		}
	}
	if resp.TLS != nil {
		verified := true
		res.TLSVerified = &verified
		if len(resp.TLS.PeerCertificates) > 0 {
			res.TLS = tlsInfoFromCert(resp.TLS.PeerCertificates[0], time.Now())
			res.TLS.captureInto(res.Headers)
		}
	}

	if !statusExpected(resp.StatusCode, r.expectedStatus(t)) {
		res.ErrorKind = ErrKindStatus
		res.ErrorMessage = fmt.Sprintf("unexpected status %d", resp.StatusCode)
		return res
	}
	if t.ExpectedContent != "" && !strings.Contains(string(raw), t.ExpectedContent) {
		res.ErrorKind = ErrKindContent
		res.ErrorMessage = fmt.Sprintf("expected content %q not found", t.ExpectedContent)
		return res
	}
	res.Success = true
	return res
}

func statusExpected(code int, expected []int) bool {
	for _, c := range expected {
		if c == code {
			return true
		}
	}
	return false
}

func classifyHTTPError(res *Result, err error) *Result {
	if isTLSVerifyError(err) {
		verified := false
		res.TLSVerified = &verified
		res.TLSError = err.Error()
		res.ErrorKind = ErrKindTLS
		res.ErrorMessage = err.Error()
		return res
	}
	res.ErrorKind = classifyNetKind(err)
	res.ErrorMessage = err.Error()
	return res
}

func classifyNetKind(err error) string {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return ErrKindTimeout
		}
		return ErrKindDNS
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrKindTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrKindTimeout
	}
	return ErrKindConnection
}

func isTLSVerifyError(err error) bool {
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return true
	}
	var hostErr x509.HostnameError
	var authErr x509.UnknownAuthorityError
	var invErr x509.CertificateInvalidError
	return errors.As(err, &hostErr) || errors.As(err, &authErr) || errors.As(err, &invErr)
}

// transientKind reports whether an error kind is worth a retry.
func transientKind(kind string) bool {
	switch kind {
	case ErrKindTimeout, ErrKindConnection, ErrKindDNS:
		return true
	}
	return false
}
