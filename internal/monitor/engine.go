// Package monitor implements the monitoring engine: the periodic sweep that
// claims due targets, fans probes out under a concurrency cap, records the
// results, and emits alert intents for detected transitions.
package monitor

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vigil-mon/vigil/internal/alert"
	"github.com/vigil-mon/vigil/internal/model"
	"github.com/vigil-mon/vigil/internal/probe"
	"github.com/vigil-mon/vigil/internal/store"
)

// IntentEmitter receives alert intents off the probe hot path.
type IntentEmitter interface {
	EmitIntent(alert.Intent)
}

// EngineConfig tunes the sweep loop.
type EngineConfig struct {
	SweepInterval   time.Duration
	BatchSize       int
	MaxConcurrent   int
	TLSWarningDays  int
	DefaultInterval time.Duration // probe interval for targets that set none
}

// Engine is the database-driven probe scheduler.
type Engine struct {
	store    *store.Store
	runner   *probe.Runner
	recorder *Recorder
	emitter  IntentEmitter
	cfg      EngineConfig

	sem    chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup

	sweeps   atomic.Int64
	probes   atomic.Int64
	faults   atomic.Int64
	inFlight atomic.Int64
}

// NewEngine wires the engine. emitter may be nil when no pipeline is
// attached (intents are then discarded).
func NewEngine(st *store.Store, runner *probe.Runner, rec *Recorder, emitter IntentEmitter, cfg EngineConfig) *Engine {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 20
	}
	if cfg.TLSWarningDays <= 0 {
		cfg.TLSWarningDays = 30
	}
	if cfg.DefaultInterval <= 0 {
		cfg.DefaultInterval = 5 * time.Minute
	}
	return &Engine{
		store:    st,
		runner:   runner,
		recorder: rec,
		emitter:  emitter,
		cfg:      cfg,
		sem:      make(chan struct{}, cfg.MaxConcurrent),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (e *Engine) Start() {
	e.wg.Add(1)
	go e.sweepLoop()
	log.Printf("[engine] started (sweep %v, batch %d, concurrency %d)",
		e.cfg.SweepInterval, e.cfg.BatchSize, e.cfg.MaxConcurrent)
}

// Stop halts sweeping and waits for in-flight probes to finish. Probes are
// never cancelled mid-flight; their timeouts bound the wait.
func (e *Engine) Stop() {
	close(e.stopCh)
	e.wg.Wait()
	log.Printf("[engine] stopped")
}

func (e *Engine) sweepLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.sweep()
		case <-e.stopCh:
			return
		}
	}
}

// sweep claims one batch of due targets and dispatches each under a
// concurrency permit. Selection errors skip the sweep; the loop continues.
func (e *Engine) sweep() {
	now := time.Now()
	targets, err := e.store.ClaimDue(context.Background(), now, e.cfg.BatchSize, e.cfg.DefaultInterval)
	if err != nil {
		log.Printf("[engine] sweep selection failed: %v", err)
		return
	}
	e.sweeps.Add(1)
	for _, t := range targets {
		select {
		case e.sem <- struct{}{}:
		case <-e.stopCh:
			return
		}
		e.wg.Add(1)
		e.inFlight.Add(1)
		go func(t *model.Target) {
			defer func() {
				<-e.sem
				e.inFlight.Add(-1)
				e.wg.Done()
			}()
			e.probeOne(t)
		}(t)
	}
}

func (e *Engine) probeOne(t *model.Target) {
	res := e.runner.Do(context.Background(), t)
	e.probes.Add(1)
	now := time.Now()

	wasUp := t.IsUp
	ended, err := e.recorder.Record(context.Background(), t, res, now)
	if err != nil {
		e.faults.Add(1)
		log.Printf("[engine] recorder failed for target %d: %v", t.ID, err)
		if faultErr := e.recorder.RecordEngineFault(context.Background(), t.ID, err, now); faultErr != nil {
			log.Printf("[engine] synthetic fault log for target %d failed: %v", t.ID, faultErr)
		}
		return
	}

	if e.emitter == nil {
		return
	}
	for _, in := range DetectTransitions(wasUp, t, res, ended, e.cfg.TLSWarningDays, now) {
		e.emitter.EmitIntent(in)
	}
}

// Stats is a point-in-time snapshot of engine counters.
type Stats struct {
	Sweeps   int64 `json:"sweeps"`
	Probes   int64 `json:"probes"`
	Faults   int64 `json:"faults"`
	InFlight int64 `json:"inFlight"`
}

// Stats reports engine diagnostics.
func (e *Engine) Stats() Stats {
	return Stats{
		Sweeps:   e.sweeps.Load(),
		Probes:   e.probes.Load(),
		Faults:   e.faults.Load(),
		InFlight: e.inFlight.Load(),
	}
}
