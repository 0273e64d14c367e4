package sched

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/vigil-mon/vigil/internal/alert"
	"github.com/vigil-mon/vigil/internal/model"
	"github.com/vigil-mon/vigil/internal/store"
)

// Built-in job names.
const (
	JobMetricsAggregate = "metrics.aggregate"
	JobLogsCleanup      = "logs.cleanup"
	JobTLSSweep         = "tls.sweep"
	JobCooldownGC       = "cooldown.gc"
	JobUsersInactive    = "users.inactive"
	JobHeartbeat        = "heartbeat"
)

// Deps carries everything the built-in jobs touch.
type Deps struct {
	Store    *store.Store
	Pipeline *alert.Pipeline

	LogRetention   time.Duration // probe/activity log horizon
	StatsHistory   time.Duration // daily_stats horizon
	TLSWarningDays int
	AlertCooldown  time.Duration
	InactiveAfter  time.Duration // user inactivity horizon
	HeartbeatSpec  string        // cron expression for the heartbeat job
}

// BuiltinJobs returns the standard maintenance set with default periods.
func BuiltinJobs(d Deps) []Job {
	return []Job{
		{Name: JobMetricsAggregate, Period: 5 * time.Minute, Run: d.aggregateDailyStats},
		{Name: JobLogsCleanup, Period: 24 * time.Hour, Run: d.cleanupLogs},
		{Name: JobTLSSweep, Period: 6 * time.Hour, Run: d.sweepTLS},
		{Name: JobCooldownGC, Period: time.Hour, Run: d.gcCooldown},
		{Name: JobUsersInactive, Period: 24 * time.Hour, Run: d.sweepInactiveUsers},
		{Name: JobHeartbeat, Spec: d.HeartbeatSpec, Period: 10 * time.Minute, Run: d.heartbeat},
	}
}

// aggregateDailyStats upserts today's aggregate row. Idempotent: a rerun
// overwrites the same row in place.
func (d Deps) aggregateDailyStats(ctx context.Context) error {
	users, err := d.Store.AggregateUsers(ctx)
	if err != nil {
		return err
	}
	targets, err := d.Store.AggregateTargets(ctx)
	if err != nil {
		return err
	}
	row := &model.DailyStats{
		Date:             time.Now().UTC(),
		TotalUsers:       users.Total,
		ActiveUsers:      users.Active,
		TotalTargets:     targets.Total,
		ActiveTargets:    targets.Active,
		UpTargets:        targets.Up,
		DownTargets:      targets.Down,
		TotalProbes:      targets.TotalProbes,
		SuccessfulProbes: targets.SuccessfulProbes,
		FailedProbes:     targets.FailedProbes,
		AvgRespTime:      targets.AvgRespTime,
		TotalDowntimeSec: targets.TotalDowntimeSec,
	}
	if err := d.Store.UpsertDailyStats(ctx, row); err != nil {
		return err
	}
	if _, err := d.Store.DeleteOldDailyStats(ctx, time.Now().Add(-d.StatsHistory)); err != nil {
		return err
	}
	return nil
}

// cleanupLogs trims probe and activity logs past the retention horizon.
func (d Deps) cleanupLogs(ctx context.Context) error {
	cutoff := time.Now().Add(-d.LogRetention)
	probes, err := d.Store.DeleteOldProbeLogs(ctx, cutoff)
	if err != nil {
		return err
	}
	activity, err := d.Store.DeleteOldActivityLogs(ctx, cutoff)
	if err != nil {
		return err
	}
	if probes > 0 || activity > 0 {
		log.Printf("[sched] logs.cleanup removed %d probe logs, %d activity logs", probes, activity)
	}
	return nil
}

// sweepTLS re-emits expiry intents for targets with certificates inside the
// warning horizon. A backstop for long-interval targets; the pipeline's
// cooldown absorbs duplicates from targets the engine already flagged.
func (d Deps) sweepTLS(ctx context.Context) error {
	if d.Pipeline == nil {
		return nil
	}
	targets, err := d.Store.ListTLSExpiring(ctx, d.TLSWarningDays)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, t := range targets {
		d.Pipeline.EmitIntent(alert.TLSExpiringIntent(t, t.TLSDaysRemaining, now))
	}
	if len(targets) > 0 {
		log.Printf("[sched] tls.sweep flagged %d targets", len(targets))
	}
	return nil
}

// gcCooldown evicts cooldown entries older than twice the window.
func (d Deps) gcCooldown(ctx context.Context) error {
	if d.Pipeline == nil {
		return nil
	}
	if n := d.Pipeline.CooldownGC(2 * d.AlertCooldown); n > 0 {
		log.Printf("[sched] cooldown.gc evicted %d entries", n)
	}
	return nil
}

// sweepInactiveUsers marks users idle past the horizon as inactive.
func (d Deps) sweepInactiveUsers(ctx context.Context) error {
	n, err := d.Store.MarkInactiveUsers(ctx, time.Now().Add(-d.InactiveAfter))
	if err != nil {
		return err
	}
	if n > 0 {
		log.Printf("[sched] users.inactive marked %d users inactive", n)
	}
	return nil
}

// heartbeat logs liveness and verifies the datastore answers.
func (d Deps) heartbeat(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := d.Store.Ping(ctx); err != nil {
		return fmt.Errorf("heartbeat: db ping: %w", err)
	}
	log.Printf("[sched] heartbeat ok")
	return nil
}
