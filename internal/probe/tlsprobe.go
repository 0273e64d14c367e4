package probe

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"strconv"
	"time"

	"github.com/vigil-mon/vigil/internal/model"
)

// Header keys for the TLS capture written into probe logs.
const (
	headerKeyTLSIssuer    = "tls.issuer"
	headerKeyTLSSubject   = "tls.subject"
	headerKeyTLSExpiry    = "tls.expiry"
	headerKeyTLSDays      = "tls.daysRemaining"
	headerKeyTLSNotBefore = "tls.notBefore"
)

// probeTLS opens a TLS connection with certificate verification disabled so
// an expired or untrusted certificate can still be inspected. Success means
// the current time falls inside the certificate's validity window.
func (r *Runner) probeTLS(ctx context.Context, t *model.Target) *Result {
	addr, err := hostPort(t.URL, "443")
	if err != nil {
		return failure(ErrKindInvalid, err)
	}
	host, err := bareHost(t.URL)
	if err != nil {
		return failure(ErrKindInvalid, err)
	}
	timeout := t.Timeout(r.opts.DefaultTimeout)
	retries := r.retries(t)
	delay := r.retryDelay(t)

	var last *Result
	for attempt := 0; ; attempt++ {
		res := tlsAttempt(ctx, addr, host, timeout)
		res.Retries = attempt
		if res.Success || !transientKind(res.ErrorKind) || attempt >= retries {
			return res
		}
		last = res
		if err := sleepRetry(ctx, delay, attempt+1); err != nil {
			return last
		}
	}
}

func tlsAttempt(ctx context.Context, addr, serverName string, timeout time.Duration) *Result {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer := &tls.Dialer{
		Config: &tls.Config{
			ServerName:         serverName,
			InsecureSkipVerify: true, // expired certs must still be observable
		},
	}
	start := time.Now()
	conn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return failure(classifyNetKind(err), err)
	}
	defer conn.Close()
	elapsed := time.Since(start).Seconds()

	state := conn.(*tls.Conn).ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return failure(ErrKindTLS, fmt.Errorf("%s: no peer certificate", addr))
	}
	now := time.Now()
	info := tlsInfoFromCert(state.PeerCertificates[0], now)

	res := &Result{
		ResponseTime: elapsed,
		ConnectTime:  elapsed,
		Headers:      map[string]string{},
		TLS:          info,
	}
	info.captureInto(res.Headers)

	valid := !now.Before(info.NotBefore) && !now.After(info.NotAfter)
	verified := valid
	res.TLSVerified = &verified
	if !valid {
		res.ResponseTime = -1
		res.ErrorKind = ErrKindTLS
		if now.After(info.NotAfter) {
			res.ErrorMessage = fmt.Sprintf("certificate expired %s", info.NotAfter.Format(time.RFC3339))
		} else {
			res.ErrorMessage = fmt.Sprintf("certificate not valid before %s", info.NotBefore.Format(time.RFC3339))
		}
		res.TLSError = res.ErrorMessage
		return res
	}
	res.Success = true
	return res
}

func tlsInfoFromCert(cert *x509.Certificate, now time.Time) *TLSInfo {
	return &TLSInfo{
		Issuer:        cert.Issuer.CommonName,
		Subject:       cert.Subject.CommonName,
		NotBefore:     cert.NotBefore,
		NotAfter:      cert.NotAfter,
		DaysRemaining: int(cert.NotAfter.Sub(now).Hours() / 24),
	}
}

func (i *TLSInfo) captureInto(h map[string]string) {
	h[headerKeyTLSIssuer] = i.Issuer
	h[headerKeyTLSSubject] = i.Subject
	h[headerKeyTLSExpiry] = i.NotAfter.Format(time.RFC3339)
	h[headerKeyTLSDays] = strconv.Itoa(i.DaysRemaining)
	h[headerKeyTLSNotBefore] = i.NotBefore.Format(time.RFC3339)
}
