package health

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const selfPingBackoffBase = 2 * time.Second

// SelfPingerConfig configures the keep-alive pinger.
type SelfPingerConfig struct {
	URL      string // resolved target; see ResolvePingURL
	Interval time.Duration
	Timeout  time.Duration
	Retries  int
}

// SelfPinger periodically GETs the liveness endpoint so platform idle
// timeouts never reap the process.
type SelfPinger struct {
	cfg    SelfPingerConfig
	client *http.Client

	stopCh chan struct{}
	wg     sync.WaitGroup

	successes   atomic.Int64
	failures    atomic.Int64
	lastSuccess atomic.Int64 // unix ns
}

// ResolvePingURL picks the ping target: explicit config, then the hosting
// platform's public URL, then localhost. A bare base URL gets /ping
// appended.
func ResolvePingURL(explicit string, port int) string {
	u := explicit
	if u == "" {
		u = os.Getenv("RENDER_EXTERNAL_URL")
	}
	if u == "" {
		u = fmt.Sprintf("http://localhost:%d", port)
	}
	u = strings.TrimRight(u, "/")
	if !strings.HasSuffix(u, "/ping") {
		u += "/ping"
	}
	return u
}

// NewSelfPinger builds a pinger for cfg.URL.
func NewSelfPinger(cfg SelfPingerConfig) *SelfPinger {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &SelfPinger{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		stopCh: make(chan struct{}),
	}
}

// Start launches the ping loop. The first ping fires immediately.
func (p *SelfPinger) Start() {
	p.wg.Add(1)
	go p.loop()
	log.Printf("[selfping] started (url %s, every %v)", p.cfg.URL, p.cfg.Interval)
}

// Stop halts the loop and waits for any in-flight ping to finish.
func (p *SelfPinger) Stop() {
	close(p.stopCh)
	p.wg.Wait()
	log.Printf("[selfping] stopped")
}

func (p *SelfPinger) loop() {
	defer p.wg.Done()
	p.ping()
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.ping()
		case <-p.stopCh:
			return
		}
	}
}

// ping attempts one keep-alive round, retrying with exponential backoff.
func (p *SelfPinger) ping() {
	for attempt := 0; ; attempt++ {
		err := p.once()
		if err == nil {
			p.successes.Add(1)
			p.lastSuccess.Store(time.Now().UnixNano())
			return
		}
		if attempt >= p.cfg.Retries {
			p.failures.Add(1)
			log.Printf("[selfping] giving up after %d attempts: %v", attempt+1, err)
			return
		}
		select {
		case <-time.After(selfPingBackoffBase << attempt):
		case <-p.stopCh:
			p.failures.Add(1)
			return
		}
	}
}

func (p *SelfPinger) once() error {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("build ping request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("ping status %d", resp.StatusCode)
	}
	return nil
}

// SelfPingStats is a point-in-time snapshot of pinger counters.
type SelfPingStats struct {
	URL         string    `json:"url"`
	Successes   int64     `json:"successes"`
	Failures    int64     `json:"failures"`
	LastSuccess time.Time `json:"lastSuccess"`
}

// Stats reports pinger diagnostics.
func (p *SelfPinger) Stats() SelfPingStats {
	st := SelfPingStats{
		URL:       p.cfg.URL,
		Successes: p.successes.Load(),
		Failures:  p.failures.Load(),
	}
	if ns := p.lastSuccess.Load(); ns != 0 {
		st.LastSuccess = time.Unix(0, ns)
	}
	return st
}
