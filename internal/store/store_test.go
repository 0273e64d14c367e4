package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/vigil-mon/vigil/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "vigil.db"), 5*time.Second)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func seedUser(t *testing.T, st *Store, id int64) *model.User {
	t.Helper()
	u := &model.User{ID: id, ChatID: "chat-1", Username: "alice", Role: "user", MaxTargets: 10}
	if err := st.UpsertUser(context.Background(), u); err != nil {
		t.Fatalf("upsert user: %v", err)
	}
	return u
}

func seedTarget(t *testing.T, st *Store, ownerID int64) *model.Target {
	t.Helper()
	tg := &model.Target{
		OwnerID:     ownerID,
		Name:        "example",
		URL:         "https://example.com",
		Kind:        model.KindHTTPS,
		HTTPMethod:  "GET",
		IntervalSec: 60,
		TimeoutSec:  10,
		IsActive:    true,
		IsUp:        true,
		AlertOnDown: true, AlertOnRecovery: true,
	}
	if err := st.CreateTarget(context.Background(), tg); err != nil {
		t.Fatalf("create target: %v", err)
	}
	return tg
}

func TestTargetRoundTrip(t *testing.T) {
	st := openTestStore(t)
	seedUser(t, st, 1)
	tg := seedTarget(t, st, 1)

	got, err := st.GetTarget(context.Background(), tg.ID)
	if err != nil {
		t.Fatalf("get target: %v", err)
	}
	if got.UUID != tg.UUID || got.Name != "example" || got.Kind != model.KindHTTPS {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.TLSDaysRemaining != -1 {
		t.Fatalf("tlsDaysRemaining = %d, want -1", got.TLSDaysRemaining)
	}

	if _, err := st.GetTarget(context.Background(), 9999); !errors.Is(err, ErrTargetNotFound) {
		t.Fatalf("missing target error = %v", err)
	}
}

func TestClaimDueAdvancesNextDue(t *testing.T) {
	st := openTestStore(t)
	seedUser(t, st, 1)
	tg := seedTarget(t, st, 1)
	ctx := context.Background()
	now := time.Now()

	claimed, err := st.ClaimDue(ctx, now, 10, time.Minute)
	if err != nil {
		t.Fatalf("claim due: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != tg.ID {
		t.Fatalf("claimed = %v", claimed)
	}

	// The claim provisionally advanced next_due_at, so an overlapping sweep
	// sees nothing due.
	again, err := st.ClaimDue(ctx, now, 10, time.Minute)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("second claim selected %d targets, want 0", len(again))
	}
}

func TestClaimDueSkipsInactiveAndDeleted(t *testing.T) {
	st := openTestStore(t)
	seedUser(t, st, 1)
	ctx := context.Background()

	inactive := seedTarget(t, st, 1)
	if _, err := st.db.ExecContext(ctx, `UPDATE targets SET is_active = 0 WHERE id = ?`, inactive.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	deleted := seedTarget(t, st, 1)
	if _, err := st.db.ExecContext(ctx, `UPDATE targets SET deleted = 1 WHERE id = ?`, deleted.ID); err != nil {
		t.Fatalf("soft delete: %v", err)
	}

	claimed, err := st.ClaimDue(ctx, time.Now(), 10, time.Minute)
	if err != nil {
		t.Fatalf("claim due: %v", err)
	}
	if len(claimed) != 0 {
		t.Fatalf("claimed %d targets, want 0", len(claimed))
	}
}

func TestClaimDueDefaultsInterval(t *testing.T) {
	st := openTestStore(t)
	seedUser(t, st, 1)
	ctx := context.Background()
	now := time.Now()

	tg := &model.Target{
		OwnerID: 1, Name: "no-interval", URL: "https://example.com",
		Kind: model.KindHTTPS, IsActive: true,
	}
	if err := st.CreateTarget(ctx, tg); err != nil {
		t.Fatalf("create target: %v", err)
	}

	claimed, err := st.ClaimDue(ctx, now, 10, 5*time.Minute)
	if err != nil {
		t.Fatalf("claim due: %v", err)
	}
	if len(claimed) != 1 || claimed[0].IntervalSec != 300 {
		t.Fatalf("claimed = %+v, want intervalSec 300", claimed)
	}

	// The provisional advance used the default interval, not the one-second
	// floor, so the target is not due again a minute later.
	again, err := st.ClaimDue(ctx, now.Add(time.Minute), 10, 5*time.Minute)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("second claim selected %d targets, want 0", len(again))
	}

	// The stored row keeps the interval as registered.
	got, err := st.GetTarget(ctx, tg.ID)
	if err != nil {
		t.Fatalf("get target: %v", err)
	}
	if got.IntervalSec != 0 {
		t.Fatalf("stored intervalSec = %d, want 0", got.IntervalSec)
	}
}

func TestCreateTargetStartsUp(t *testing.T) {
	st := openTestStore(t)
	seedUser(t, st, 1)
	ctx := context.Background()

	tg := &model.Target{
		OwnerID: 1, Name: "fresh", URL: "https://example.com",
		Kind: model.KindHTTPS, IntervalSec: 60, IsActive: true,
	}
	if err := st.CreateTarget(ctx, tg); err != nil {
		t.Fatalf("create target: %v", err)
	}

	got, err := st.GetTarget(ctx, tg.ID)
	if err != nil {
		t.Fatalf("get target: %v", err)
	}
	if !got.IsUp {
		t.Fatal("new target should start up")
	}
	if !got.DowntimeStart.IsZero() {
		t.Fatalf("downtimeStart = %v, want zero while up", got.DowntimeStart)
	}
}

func TestListTLSExpiringIncludesExpired(t *testing.T) {
	st := openTestStore(t)
	seedUser(t, st, 1)
	ctx := context.Background()
	now := time.Now()

	recordTLS := func(tg *model.Target, days int) {
		t.Helper()
		tg.TLSDaysRemaining = days
		tg.TLSExpiry = now.AddDate(0, 0, days)
		lg := &model.ProbeLog{TargetID: tg.ID, CheckedAt: now, Success: true}
		if err := st.RecordProbe(ctx, tg, lg); err != nil {
			t.Fatalf("record probe: %v", err)
		}
	}

	expired := seedTarget(t, st, 1)
	recordTLS(expired, -2)
	expiring := seedTarget(t, st, 1)
	recordTLS(expiring, 10)
	healthy := seedTarget(t, st, 1)
	recordTLS(healthy, 200)
	unknown := seedTarget(t, st, 1) // never probed, no certificate recorded
	_ = unknown

	got, err := st.ListTLSExpiring(ctx, 30)
	if err != nil {
		t.Fatalf("list tls expiring: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d targets, want 2", len(got))
	}
	// Most urgent first: the expired certificate sorts ahead of the expiring.
	if got[0].ID != expired.ID || got[1].ID != expiring.ID {
		t.Fatalf("order = [%d %d], want [%d %d]", got[0].ID, got[1].ID, expired.ID, expiring.ID)
	}
}

func TestRecordProbePersistsLogAndTarget(t *testing.T) {
	st := openTestStore(t)
	seedUser(t, st, 1)
	tg := seedTarget(t, st, 1)
	ctx := context.Background()
	now := time.Now()

	tg.ApplyProbe(model.ProbeOutcome{Success: true, StatusCode: 200, ResponseTime: 0.12}, now)
	lg := &model.ProbeLog{
		TargetID: tg.ID, CheckedAt: now, Success: true,
		StatusCode: 200, ResponseTime: 0.12, IPAddress: "93.184.216.34",
	}
	if err := st.RecordProbe(ctx, tg, lg); err != nil {
		t.Fatalf("record probe: %v", err)
	}
	if lg.ID == 0 {
		t.Fatal("probe log id not assigned")
	}

	got, err := st.GetTarget(ctx, tg.ID)
	if err != nil {
		t.Fatalf("get target: %v", err)
	}
	if got.TotalProbes != 1 || got.SuccessfulProbes != 1 || got.LastStatus != 200 {
		t.Fatalf("persisted target = %+v", got)
	}
	logs, err := st.ListProbeLogs(ctx, tg.ID, 10)
	if err != nil {
		t.Fatalf("list probe logs: %v", err)
	}
	if len(logs) != 1 || !logs[0].Success || logs[0].StatusCode != 200 {
		t.Fatalf("probe logs = %+v", logs)
	}
}

func TestProbeLogRetention(t *testing.T) {
	st := openTestStore(t)
	seedUser(t, st, 1)
	tg := seedTarget(t, st, 1)
	ctx := context.Background()
	now := time.Now()

	old := &model.ProbeLog{TargetID: tg.ID, CheckedAt: now.Add(-48 * time.Hour), Success: true}
	fresh := &model.ProbeLog{TargetID: tg.ID, CheckedAt: now, Success: true}
	for _, lg := range []*model.ProbeLog{old, fresh} {
		if err := st.InsertProbeLog(ctx, lg); err != nil {
			t.Fatalf("insert probe log: %v", err)
		}
	}

	n, err := st.DeleteOldProbeLogs(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("delete old probe logs: %v", err)
	}
	if n != 1 {
		t.Fatalf("deleted %d rows, want 1", n)
	}
	logs, err := st.ListProbeLogs(ctx, tg.ID, 10)
	if err != nil {
		t.Fatalf("list probe logs: %v", err)
	}
	if len(logs) != 1 || !logs[0].CheckedAt.Equal(fresh.CheckedAt) {
		t.Fatalf("remaining logs = %+v", logs)
	}
}

func TestAlertLifecycle(t *testing.T) {
	st := openTestStore(t)
	seedUser(t, st, 1)
	tg := seedTarget(t, st, 1)
	ctx := context.Background()

	a := &model.Alert{
		OwnerID: 1, TargetID: tg.ID, Kind: model.AlertDown,
		Title: "example is down", Body: "down", MaxRetries: 3,
		Channels: []string{"telegram"},
	}
	if err := st.InsertAlert(ctx, a); err != nil {
		t.Fatalf("insert alert: %v", err)
	}
	if err := st.MarkAlertSent(ctx, a.ID, time.Now(), 1); err != nil {
		t.Fatalf("mark sent: %v", err)
	}

	alerts, err := st.ListAlertsByOwner(ctx, 1, 10)
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if len(alerts) != 1 || !alerts[0].Sent || alerts[0].Retries != 1 {
		t.Fatalf("alerts = %+v", alerts)
	}
	total, sent, err := st.CountAlerts(ctx)
	if err != nil {
		t.Fatalf("count alerts: %v", err)
	}
	if total != 1 || sent != 1 {
		t.Fatalf("counts = %d/%d", total, sent)
	}
}

func TestDailyStatsUpsertIdempotent(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	day := time.Date(2026, 8, 24, 13, 45, 0, 0, time.UTC)

	row := &model.DailyStats{Date: day, TotalUsers: 3, TotalTargets: 7, TotalProbes: 100}
	if err := st.UpsertDailyStats(ctx, row); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := st.UpsertDailyStats(ctx, row); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := st.GetDailyStats(ctx, day)
	if err != nil {
		t.Fatalf("get daily stats: %v", err)
	}
	if got.TotalUsers != 3 || got.TotalTargets != 7 || got.TotalProbes != 100 {
		t.Fatalf("daily stats = %+v", got)
	}
	if _, err := st.GetDailyStats(ctx, day.AddDate(0, 0, 1)); !errors.Is(err, ErrStatsNotFound) {
		t.Fatalf("missing stats error = %v", err)
	}
}

func TestMarkInactiveUsers(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	stale := &model.User{ID: 1, ChatID: "c1", LastActivity: now.Add(-100 * 24 * time.Hour)}
	active := &model.User{ID: 2, ChatID: "c2", LastActivity: now}
	// Never recorded any activity; ages out by creation time instead.
	never := &model.User{ID: 3, ChatID: "c3", CreatedAt: now.Add(-200 * 24 * time.Hour)}
	for _, u := range []*model.User{stale, active, never} {
		if err := st.UpsertUser(ctx, u); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	n, err := st.MarkInactiveUsers(ctx, now.Add(-90*24*time.Hour))
	if err != nil {
		t.Fatalf("mark inactive: %v", err)
	}
	if n != 2 {
		t.Fatalf("marked %d users, want 2", n)
	}
	for _, id := range []int64{1, 3} {
		got, err := st.GetUser(ctx, id)
		if err != nil {
			t.Fatalf("get user %d: %v", id, err)
		}
		if got.Status != model.UserInactive {
			t.Fatalf("user %d status = %s, want inactive", id, got.Status)
		}
	}
	got, err := st.GetUser(ctx, 2)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if got.Status != model.UserActive {
		t.Fatalf("active user swept: %s", got.Status)
	}
}

func TestChatIDFor(t *testing.T) {
	st := openTestStore(t)
	seedUser(t, st, 7)
	ctx := context.Background()

	chatID, err := st.ChatIDFor(ctx, 7)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if chatID != "chat-1" {
		t.Fatalf("chatID = %q", chatID)
	}
	if _, err := st.ChatIDFor(ctx, 999); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("missing user error = %v", err)
	}
}

func TestAggregates(t *testing.T) {
	st := openTestStore(t)
	seedUser(t, st, 1)
	ctx := context.Background()

	up := seedTarget(t, st, 1)
	down := seedTarget(t, st, 1)
	if _, err := st.db.ExecContext(ctx,
		`UPDATE targets SET is_up = 0, total_probes = 10, failed_probes = 10 WHERE id = ?`, down.ID); err != nil {
		t.Fatalf("mark down: %v", err)
	}
	_ = up

	tc, err := st.AggregateTargets(ctx)
	if err != nil {
		t.Fatalf("aggregate targets: %v", err)
	}
	if tc.Total != 2 || tc.Up != 1 || tc.Down != 1 || tc.TotalProbes != 10 {
		t.Fatalf("target counts = %+v", tc)
	}
	uc, err := st.AggregateUsers(ctx)
	if err != nil {
		t.Fatalf("aggregate users: %v", err)
	}
	if uc.Total != 1 || uc.Active != 1 {
		t.Fatalf("user counts = %+v", uc)
	}
}
