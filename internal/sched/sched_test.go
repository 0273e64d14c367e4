package sched

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/vigil-mon/vigil/internal/alert"
	"github.com/vigil-mon/vigil/internal/config"
	"github.com/vigil-mon/vigil/internal/model"
	"github.com/vigil-mon/vigil/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "vigil.db"), 5*time.Second)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func seedUser(t *testing.T, st *store.Store, id int64, lastActivity time.Time) {
	t.Helper()
	u := &model.User{ID: id, ChatID: "chat-1", LastActivity: lastActivity}
	if err := st.UpsertUser(context.Background(), u); err != nil {
		t.Fatalf("upsert user: %v", err)
	}
}

func seedTarget(t *testing.T, st *store.Store, kind model.TargetKind) *model.Target {
	t.Helper()
	tg := &model.Target{
		OwnerID: 1, Name: "example", URL: "https://example.com", Kind: kind,
		IntervalSec: 60, TimeoutSec: 10, IsActive: true, IsUp: true,
	}
	if err := st.CreateTarget(context.Background(), tg); err != nil {
		t.Fatalf("create target: %v", err)
	}
	return tg
}

func TestRegisterValidation(t *testing.T) {
	s := New()
	noop := func(ctx context.Context) error { return nil }

	if err := s.Register(Job{Name: "no-action", Period: time.Minute}, nil); err == nil {
		t.Fatal("job without action accepted")
	}
	if err := s.Register(Job{Name: "no-schedule", Run: noop}, nil); err == nil {
		t.Fatal("job without schedule accepted")
	}
	if err := s.Register(Job{Name: "bad-spec", Spec: "not a cron line", Run: noop}, nil); err == nil {
		t.Fatal("invalid cron spec accepted")
	}
	if err := s.Register(Job{Name: "ok", Period: time.Minute, Run: noop}, nil); err != nil {
		t.Fatalf("valid job rejected: %v", err)
	}
	if err := s.Register(Job{Name: "ok", Period: time.Minute, Run: noop}, nil); err == nil {
		t.Fatal("duplicate name accepted")
	}
}

func TestRegisterOverrides(t *testing.T) {
	s := New()
	noop := func(ctx context.Context) error { return nil }
	overrides := map[string]config.JobOverride{
		"dropped": {Disabled: true},
		"retuned": {Period: config.Duration(30 * time.Second)},
	}

	if err := s.Register(Job{Name: "dropped", Period: time.Minute, Run: noop}, overrides); err != nil {
		t.Fatalf("disabled job errored: %v", err)
	}
	if err := s.Register(Job{Name: "retuned", Spec: "*/10 * * * *", Run: noop}, overrides); err != nil {
		t.Fatalf("retuned job errored: %v", err)
	}

	stats := s.JobStats()
	if len(stats) != 1 {
		t.Fatalf("stats = %+v, want only the retuned job", stats)
	}
	if stats[0].Name != "retuned" || stats[0].Spec != "@every 30s" {
		t.Fatalf("stat = %+v", stats[0])
	}
}

func TestSchedulerRunsAndCounts(t *testing.T) {
	s := New()
	ran := make(chan struct{}, 8)
	if err := s.Register(Job{
		Name:   "ticker",
		Period: time.Second,
		Run: func(ctx context.Context) error {
			select {
			case ran <- struct{}{}:
			default:
			}
			return nil
		},
	}, nil); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := s.Register(Job{
		Name:   "failing",
		Period: time.Second,
		Run:    func(ctx context.Context) error { return errors.New("boom") },
	}, nil); err != nil {
		t.Fatalf("register: %v", err)
	}

	s.Start()
	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("job never ran")
	}
	s.Stop()

	for _, st := range s.JobStats() {
		switch st.Name {
		case "ticker":
			if st.Runs < 1 || st.Errors != 0 || st.LastRun.IsZero() {
				t.Fatalf("ticker stat = %+v", st)
			}
		case "failing":
			if st.Runs >= 1 && st.Errors != st.Runs {
				t.Fatalf("failing stat = %+v", st)
			}
		}
	}
}

func TestAggregateDailyStats(t *testing.T) {
	st := openTestStore(t)
	seedUser(t, st, 1, time.Now())
	seedTarget(t, st, model.KindHTTP)
	d := Deps{Store: st, StatsHistory: 90 * 24 * time.Hour}
	ctx := context.Background()

	if err := d.aggregateDailyStats(ctx); err != nil {
		t.Fatalf("first run: %v", err)
	}
	// Reruns land on the same row.
	if err := d.aggregateDailyStats(ctx); err != nil {
		t.Fatalf("second run: %v", err)
	}

	row, err := st.GetDailyStats(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("get daily stats: %v", err)
	}
	if row.TotalUsers != 1 || row.TotalTargets != 1 {
		t.Fatalf("daily stats = %+v", row)
	}
}

func TestCleanupLogs(t *testing.T) {
	st := openTestStore(t)
	seedUser(t, st, 1, time.Now())
	tg := seedTarget(t, st, model.KindHTTP)
	ctx := context.Background()
	now := time.Now()

	for _, at := range []time.Time{now.Add(-10 * 24 * time.Hour), now} {
		lg := &model.ProbeLog{TargetID: tg.ID, CheckedAt: at, Success: true}
		if err := st.InsertProbeLog(ctx, lg); err != nil {
			t.Fatalf("insert probe log: %v", err)
		}
		al := &model.ActivityLog{UserID: 1, Action: "probe", CreatedAt: at}
		if err := st.InsertActivityLog(ctx, al); err != nil {
			t.Fatalf("insert activity log: %v", err)
		}
	}

	d := Deps{Store: st, LogRetention: 7 * 24 * time.Hour}
	if err := d.cleanupLogs(ctx); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	logs, err := st.ListProbeLogs(ctx, tg.ID, 10)
	if err != nil {
		t.Fatalf("list probe logs: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("probe logs = %d rows, want 1", len(logs))
	}
}

func TestSweepTLSEmitsIntents(t *testing.T) {
	st := openTestStore(t)
	seedUser(t, st, 1, time.Now())
	ctx := context.Background()

	expiring := seedTarget(t, st, model.KindHTTPS)
	expiring.TLSDaysRemaining = 10
	expiring.TLSExpiry = time.Now().AddDate(0, 0, 10)
	if err := st.RecordProbe(ctx, expiring, &model.ProbeLog{
		TargetID: expiring.ID, CheckedAt: time.Now(), Success: true,
	}); err != nil {
		t.Fatalf("persist tls state: %v", err)
	}
	// Fresh certificate, outside the horizon.
	healthy := seedTarget(t, st, model.KindHTTPS)
	healthy.TLSDaysRemaining = 200
	healthy.TLSExpiry = time.Now().AddDate(0, 0, 200)
	if err := st.RecordProbe(ctx, healthy, &model.ProbeLog{
		TargetID: healthy.ID, CheckedAt: time.Now(), Success: true,
	}); err != nil {
		t.Fatalf("persist tls state: %v", err)
	}

	p := alert.NewPipeline(st, nil, nil, alert.Config{})
	p.Start()
	d := Deps{Store: st, Pipeline: p, TLSWarningDays: 30}
	if err := d.sweepTLS(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	var alerts []*model.Alert
	for time.Now().Before(deadline) {
		var err error
		alerts, err = st.ListAlertsByOwner(ctx, 1, 10)
		if err != nil {
			t.Fatalf("list alerts: %v", err)
		}
		if len(alerts) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	p.Stop()

	if len(alerts) != 1 || alerts[0].Kind != model.AlertTLSExpiry || alerts[0].TargetID != expiring.ID {
		t.Fatalf("alerts = %+v", alerts)
	}
}

func TestSweepInactiveUsers(t *testing.T) {
	st := openTestStore(t)
	seedUser(t, st, 1, time.Now().Add(-100*24*time.Hour))
	seedUser(t, st, 2, time.Now())

	d := Deps{Store: st, InactiveAfter: 90 * 24 * time.Hour}
	if err := d.sweepInactiveUsers(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	got, err := st.GetUser(context.Background(), 1)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if got.Status != model.UserInactive {
		t.Fatalf("status = %s, want inactive", got.Status)
	}
}

func TestHeartbeat(t *testing.T) {
	st := openTestStore(t)
	d := Deps{Store: st}
	if err := d.heartbeat(context.Background()); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
}
