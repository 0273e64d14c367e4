// Package sched runs the periodic maintenance jobs: stats aggregation, log
// GC, TLS-expiry sweep, cooldown GC, inactive-user sweep, and heartbeat.
package sched

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vigil-mon/vigil/internal/config"
)

// Job is one registered maintenance action. Spec takes precedence over
// Period; with both empty the job is rejected.
type Job struct {
	Name   string
	Spec   string        // cron expression, e.g. "*/10 * * * *"
	Period time.Duration // rendered as "@every <period>" when Spec is empty
	Run    func(ctx context.Context) error
}

type jobState struct {
	name    string
	spec    string
	entryID cron.EntryID
	runs    atomic.Int64
	errors  atomic.Int64
	lastRun atomic.Int64 // unix ns, 0 until first run
}

// Scheduler wraps a cron runner with per-job run/error accounting.
// Overlapping runs of the same job are suppressed.
type Scheduler struct {
	cron *cron.Cron

	mu   sync.Mutex
	jobs map[string]*jobState
}

// New creates an idle scheduler.
func New() *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cron.DiscardLogger),
		)),
		jobs: make(map[string]*jobState),
	}
}

// Register adds a job, applying any override for its name. A disabled
// override drops the job entirely.
func (s *Scheduler) Register(j Job, overrides map[string]config.JobOverride) error {
	if j.Run == nil {
		return fmt.Errorf("sched: job %q has no action", j.Name)
	}
	if o, ok := overrides[j.Name]; ok {
		if o.Disabled {
			log.Printf("[sched] job %s disabled by override", j.Name)
			return nil
		}
		j.Spec = ""
		j.Period = o.Period.Std()
	}
	spec := j.Spec
	if spec == "" {
		if j.Period <= 0 {
			return fmt.Errorf("sched: job %q has no schedule", j.Name)
		}
		spec = fmt.Sprintf("@every %s", j.Period)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[j.Name]; exists {
		return fmt.Errorf("sched: job %q already registered", j.Name)
	}
	st := &jobState{name: j.Name, spec: spec}
	run := j.Run
	entryID, err := s.cron.AddFunc(spec, func() {
		st.lastRun.Store(time.Now().UnixNano())
		st.runs.Add(1)
		if err := run(context.Background()); err != nil {
			st.errors.Add(1)
			log.Printf("[sched] job %s failed: %v", st.name, err)
		}
	})
	if err != nil {
		return fmt.Errorf("sched: register job %q (%s): %w", j.Name, spec, err)
	}
	st.entryID = entryID
	s.jobs[j.Name] = st
	return nil
}

// Start begins dispatching jobs on their schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.mu.Lock()
	n := len(s.jobs)
	s.mu.Unlock()
	log.Printf("[sched] started with %d jobs", n)
}

// Stop halts scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	log.Printf("[sched] stopped")
}

// JobStat is a point-in-time snapshot of one job's accounting.
type JobStat struct {
	Name    string    `json:"name"`
	Spec    string    `json:"spec"`
	Runs    int64     `json:"runs"`
	Errors  int64     `json:"errors"`
	LastRun time.Time `json:"lastRun"`
	NextRun time.Time `json:"nextRun"`
}

// JobStats reports every registered job. Order is unspecified; callers sort
// if they need determinism.
func (s *Scheduler) JobStats() []JobStat {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStat, 0, len(s.jobs))
	for _, st := range s.jobs {
		stat := JobStat{
			Name:   st.name,
			Spec:   st.spec,
			Runs:   st.runs.Load(),
			Errors: st.errors.Load(),
		}
		if ns := st.lastRun.Load(); ns != 0 {
			stat.LastRun = time.Unix(0, ns)
		}
		stat.NextRun = s.cron.Entry(st.entryID).Next
		out = append(out, stat)
	}
	return out
}
