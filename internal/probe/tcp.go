package probe

import (
	"context"
	"net"
	"time"

	"github.com/vigil-mon/vigil/internal/model"
)

// probeTCP opens and closes one TCP connection. Success means the connection
// was established within the timeout.
func (r *Runner) probeTCP(ctx context.Context, t *model.Target) *Result {
	addr, err := hostPort(t.URL, "80")
	if err != nil {
		return failure(ErrKindInvalid, err)
	}
	timeout := t.Timeout(r.opts.DefaultTimeout)
	retries := r.retries(t)
	delay := r.retryDelay(t)

	var last *Result
	for attempt := 0; ; attempt++ {
		res := tcpAttempt(ctx, addr, timeout)
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

func tcpAttempt(ctx context.Context, addr string, timeout time.Duration) *Result {
	dialer := net.Dialer{Timeout: timeout}
	start := time.Now()
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return failure(classifyNetKind(err), err)
	}
	elapsed := time.Since(start).Seconds()
	res := &Result{
		Success:      true,
		ResponseTime: elapsed,
		ConnectTime:  elapsed,
	}
	if host, _, err := net.SplitHostPort(conn.RemoteAddr().String()); err == nil {
		res.IPAddress = host
	}
	conn.Close()
	return res
}
