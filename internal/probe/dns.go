package probe

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/vigil-mon/vigil/internal/model"
)

// headerKeyDNSRecordType overrides the queried record type (default A).
const headerKeyDNSRecordType = "dns.recordType"

// probeDNS resolves the target's bare host. NXDOMAIN, empty answers, and
// timeouts are classified as distinct failures; only timeouts are retried.
func (r *Runner) probeDNS(ctx context.Context, t *model.Target) *Result {
	host, err := bareHost(t.URL)
	if err != nil {
		return failure(ErrKindInvalid, err)
	}

	qtype := dns.TypeA
	if v := t.Headers[headerKeyDNSRecordType]; v != "" {
		rt, ok := dns.StringToType[strings.ToUpper(strings.TrimSpace(v))]
		if !ok {
			return failure(ErrKindInvalid, fmt.Errorf("unknown DNS record type %q", v))
		}
		qtype = rt
	}

	server, err := r.resolverAddr()
	if err != nil {
		return failure(ErrKindDNS, err)
	}

	timeout := t.Timeout(r.opts.DefaultTimeout)
	retries := r.retries(t)
	delay := r.retryDelay(t)

	var last *Result
	for attempt := 0; ; attempt++ {
		res := dnsAttempt(ctx, host, server, qtype, timeout)
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

// resolverAddr picks the system resolver, falling back to the configured
// server when resolv.conf is unusable.
func (r *Runner) resolverAddr() (string, error) {
	cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err == nil && len(cfg.Servers) > 0 {
		return net.JoinHostPort(cfg.Servers[0], cfg.Port), nil
	}
	if r.opts.DNSServer != "" {
		return r.opts.DNSServer, nil
	}
	return "", fmt.Errorf("no DNS server available: %v", err)
}

func dnsAttempt(ctx context.Context, host, server string, qtype uint16, timeout time.Duration) *Result {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), qtype)
	m.RecursionDesired = true

	c := &dns.Client{Timeout: timeout}
	start := time.Now()
	reply, rtt, err := c.ExchangeContext(ctx, m, server)
	if err != nil {
		return failure(classifyNetKind(err), err)
	}
	elapsed := time.Since(start).Seconds()
	res := &Result{
		ResponseTime: elapsed,
		DNSTime:      rtt.Seconds(),
		Headers:      map[string]string{},
	}
	switch reply.Rcode {
	case dns.RcodeSuccess:
	case dns.RcodeNameError:
		res.ResponseTime = -1
		res.ErrorKind = ErrKindNXDomain
		res.ErrorMessage = fmt.Sprintf("%s: NXDOMAIN", host)
		return res
	default:
		res.ResponseTime = -1
		res.ErrorKind = ErrKindDNS
		res.ErrorMessage = fmt.Sprintf("%s: rcode %s", host, dns.RcodeToString[reply.Rcode])
		return res
	}
	if len(reply.Answer) == 0 {
		res.ResponseTime = -1
		res.ErrorKind = ErrKindNoAnswer
		res.ErrorMessage = fmt.Sprintf("%s: no %s records", host, dns.TypeToString[qtype])
		return res
	}

	res.Success = true
	first := reply.Answer[0]
	res.Headers["dns.answer"] = strings.TrimSpace(strings.TrimPrefix(first.String(), first.Header().String()))
	switch rr := first.(type) {
	case *dns.A:
		res.IPAddress = rr.A.String()
	case *dns.AAAA:
		res.IPAddress = rr.AAAA.String()
	}
	return res
}
