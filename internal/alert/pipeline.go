// Package alert implements the queued, rate-limited, deduplicating alert
// dispatcher: cooldown, per-owner sliding window, persist-then-deliver with
// retry, and drain-on-stop.
package alert

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vigil-mon/vigil/internal/model"
	"github.com/vigil-mon/vigil/internal/store"
)

// Config tunes the pipeline's dispatch discipline.
type Config struct {
	QueueCap      int
	Cooldown      time.Duration
	MaxPerHour    int
	RetryCount    int
	RetryDelay    time.Duration
	DeliveryClock func() time.Time // test hook; nil means time.Now
}

// Pipeline decouples the probe hot path from alert delivery.
// EmitIntent performs a non-blocking channel send (drops on overflow).
// A single dispatcher goroutine applies cooldown and rate limiting,
// persists every surviving intent, and delivers through the sink.
type Pipeline struct {
	store    *store.Store
	sink     Sink
	resolver *ChatResolver
	cfg      Config
	queue    chan Intent
	now      func() time.Time

	cooldownMu sync.Mutex
	cooldown   map[int64]time.Time

	window *ownerWindow

	stopCh chan struct{}
	wg     sync.WaitGroup

	enqueued    atomic.Int64
	dropped     atomic.Int64
	suppressed  atomic.Int64
	rateLimited atomic.Int64
	delivered   atomic.Int64
	failed      atomic.Int64
}

// NewPipeline creates a pipeline. sink may be nil: intents are then
// persisted without delivery.
func NewPipeline(st *store.Store, sink Sink, resolver *ChatResolver, cfg Config) *Pipeline {
	if cfg.QueueCap <= 0 {
		cfg.QueueCap = 10000
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Minute
	}
	if cfg.MaxPerHour <= 0 {
		cfg.MaxPerHour = 20
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	now := cfg.DeliveryClock
	if now == nil {
		now = time.Now
	}
	return &Pipeline{
		store:    st,
		sink:     sink,
		resolver: resolver,
		cfg:      cfg,
		queue:    make(chan Intent, cfg.QueueCap),
		now:      now,
		cooldown: make(map[int64]time.Time),
		window:   newOwnerWindow(time.Hour, cfg.MaxPerHour),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the dispatcher goroutine.
func (p *Pipeline) Start() {
	p.wg.Add(1)
	go p.dispatchLoop()
	log.Printf("[alerts] pipeline started (queue cap %d, cooldown %v, %d/h per owner)",
		p.cfg.QueueCap, p.cfg.Cooldown, p.cfg.MaxPerHour)
}

// Stop signals the dispatcher, drains remaining intents by persisting them
// unsent, and returns once the goroutine has exited.
func (p *Pipeline) Stop() {
	close(p.stopCh)
	p.wg.Wait()
	log.Printf("[alerts] pipeline stopped")
}

// EmitIntent enqueues an intent. Non-blocking; drops on overflow because
// probing availability outranks a redundant alert.
func (p *Pipeline) EmitIntent(in Intent) {
	select {
	case p.queue <- in:
		p.enqueued.Add(1)
	default:
		p.dropped.Add(1)
		log.Printf("[alerts] queue full, dropping %s intent for target %d", in.Kind, in.TargetID)
	}
}

func (p *Pipeline) dispatchLoop() {
	defer p.wg.Done()
	for {
		select {
		case in := <-p.queue:
			p.dispatch(in)
		case <-p.stopCh:
			p.drain()
			return
		}
	}
}

// drain persists everything left in the queue with sent=false so no intent
// is silently lost across a restart.
func (p *Pipeline) drain() {
	for {
		select {
		case in := <-p.queue:
			a := p.alertRow(in)
			if err := p.store.InsertAlert(context.Background(), a); err != nil {
				log.Printf("[alerts] drain: persist %s for target %d failed: %v", in.Kind, in.TargetID, err)
			}
		default:
			return
		}
	}
}

func (p *Pipeline) dispatch(in Intent) {
	now := p.now()

	if !p.cooldownAllows(in.TargetID, in.Kind, now) {
		p.suppressed.Add(1)
		return
	}

	allowed := p.window.allow(in.OwnerID, now)
	if !allowed {
		p.rateLimited.Add(1)
	}

	a := p.alertRow(in)
	ctx := context.Background()
	if err := p.store.InsertAlert(ctx, a); err != nil {
		log.Printf("[alerts] persist %s for target %d failed: %v", in.Kind, in.TargetID, err)
		return
	}
	if !allowed || p.sink == nil {
		return
	}

	p.window.record(in.OwnerID, now)
	p.deliver(ctx, a)
}

// cooldownAllows suppresses repeat alerts per target inside the cooldown
// window. Recovery alerts are never suppressed and never arm the window.
func (p *Pipeline) cooldownAllows(targetID int64, kind model.AlertKind, now time.Time) bool {
	if kind == model.AlertUp || targetID == 0 {
		return true
	}
	p.cooldownMu.Lock()
	defer p.cooldownMu.Unlock()
	if last, ok := p.cooldown[targetID]; ok && now.Sub(last) < p.cfg.Cooldown {
		return false
	}
	p.cooldown[targetID] = now
	return true
}

// CooldownGC evicts cooldown entries older than maxAge. Returns the number
// evicted. Run by the periodic scheduler.
func (p *Pipeline) CooldownGC(maxAge time.Duration) int {
	cutoff := p.now().Add(-maxAge)
	p.cooldownMu.Lock()
	defer p.cooldownMu.Unlock()
	n := 0
	for id, last := range p.cooldown {
		if last.Before(cutoff) {
			delete(p.cooldown, id)
			n++
		}
	}
	return n
}

func (p *Pipeline) deliver(ctx context.Context, a *model.Alert) {
	chatID, err := p.resolver.Resolve(ctx, a.OwnerID)
	if err != nil {
		p.failed.Add(1)
		log.Printf("[alerts] no route for owner %d: %v", a.OwnerID, err)
		return
	}

	for attempt := 0; ; attempt++ {
		err := p.sink.Send(ctx, chatID, a.Body)
		if err == nil {
			p.delivered.Add(1)
			if err := p.store.MarkAlertSent(ctx, a.ID, p.now(), attempt); err != nil {
				log.Printf("[alerts] mark alert %d sent failed: %v", a.ID, err)
			}
			return
		}
		var perm *PermanentError
		if errors.As(err, &perm) {
			p.failed.Add(1)
			p.resolver.Invalidate(a.OwnerID)
			log.Printf("[alerts] permanent failure delivering alert %d to owner %d: %v", a.ID, a.OwnerID, err)
			p.markUnsent(ctx, a.ID, attempt)
			return
		}
		if attempt >= p.cfg.RetryCount {
			p.failed.Add(1)
			log.Printf("[alerts] giving up on alert %d after %d attempts: %v", a.ID, attempt+1, err)
			p.markUnsent(ctx, a.ID, attempt)
			return
		}
		select {
		case <-time.After(p.cfg.RetryDelay << attempt):
		case <-p.stopCh:
			p.markUnsent(ctx, a.ID, attempt)
			return
		}
	}
}

func (p *Pipeline) markUnsent(ctx context.Context, id int64, retries int) {
	if err := p.store.MarkAlertUnsent(ctx, id, retries); err != nil {
		log.Printf("[alerts] mark alert %d unsent failed: %v", id, err)
	}
}

func (p *Pipeline) alertRow(in Intent) *model.Alert {
	at := in.At
	if at.IsZero() {
		at = p.now()
	}
	return &model.Alert{
		OwnerID:    in.OwnerID,
		TargetID:   in.TargetID,
		Kind:       in.Kind,
		Title:      in.Title,
		Body:       in.Body,
		Priority:   in.Priority,
		Channels:   []string{"telegram"},
		MaxRetries: p.cfg.RetryCount,
		CreatedAt:  at,
	}
}

// Stats is a point-in-time snapshot of pipeline counters.
type Stats struct {
	QueueLen    int   `json:"queueLen"`
	Enqueued    int64 `json:"enqueued"`
	Dropped     int64 `json:"dropped"`
	Suppressed  int64 `json:"suppressed"`
	RateLimited int64 `json:"rateLimited"`
	Delivered   int64 `json:"delivered"`
	Failed      int64 `json:"failed"`
	CooldownLen int   `json:"cooldownLen"`
}

// Stats reports pipeline diagnostics.
func (p *Pipeline) Stats() Stats {
	p.cooldownMu.Lock()
	cdLen := len(p.cooldown)
	p.cooldownMu.Unlock()
	return Stats{
		QueueLen:    len(p.queue),
		Enqueued:    p.enqueued.Load(),
		Dropped:     p.dropped.Load(),
		Suppressed:  p.suppressed.Load(),
		RateLimited: p.rateLimited.Load(),
		Delivered:   p.delivered.Load(),
		Failed:      p.failed.Load(),
		CooldownLen: cdLen,
	}
}
