package alert

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/vigil-mon/vigil/internal/model"
	"github.com/vigil-mon/vigil/internal/store"
)

type fakeSink struct {
	mu    sync.Mutex
	sends []string
	fail  int   // fail this many sends before succeeding
	perm  error // returned instead when set
}

func (f *fakeSink) Send(_ context.Context, chatID, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.perm != nil {
		return f.perm
	}
	if f.fail > 0 {
		f.fail--
		return errors.New("transient sink failure")
	}
	f.sends = append(f.sends, chatID+": "+body)
	return nil
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "vigil.db"), 5*time.Second)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.UpsertUser(context.Background(), &model.User{ID: 1, ChatID: "chat-1"}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return st
}

func seedTargets(t *testing.T, st *store.Store, n int) []int64 {
	t.Helper()
	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		tg := &model.Target{
			OwnerID: 1, Name: "example", URL: "https://example.com",
			Kind: model.KindHTTPS, IntervalSec: 60, IsActive: true, IsUp: true,
		}
		if err := st.CreateTarget(context.Background(), tg); err != nil {
			t.Fatalf("seed target: %v", err)
		}
		ids = append(ids, tg.ID)
	}
	return ids
}

func testPipeline(t *testing.T, st *store.Store, sink Sink, cfg Config) *Pipeline {
	t.Helper()
	resolver := NewChatResolver(st, 16)
	t.Cleanup(resolver.Close)
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 5 * time.Millisecond
	}
	return NewPipeline(st, sink, resolver, cfg)
}

func downIntent(targetID int64) Intent {
	return Intent{
		OwnerID: 1, TargetID: targetID, Kind: model.AlertDown,
		Title: "down", Body: "target is down",
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestDeliverAndPersist(t *testing.T) {
	st := openTestStore(t)
	ids := seedTargets(t, st, 1)
	sink := &fakeSink{}
	p := testPipeline(t, st, sink, Config{})
	p.Start()

	p.EmitIntent(downIntent(ids[0]))
	waitFor(t, 2*time.Second, func() bool { return sink.count() == 1 })
	p.Stop()

	alerts, err := st.ListAlertsByOwner(context.Background(), 1, 10)
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if len(alerts) != 1 || !alerts[0].Sent {
		t.Fatalf("alerts = %+v", alerts)
	}
	if s := p.Stats(); s.Delivered != 1 || s.Enqueued != 1 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestCooldownSuppressesRepeats(t *testing.T) {
	st := openTestStore(t)
	ids := seedTargets(t, st, 1)
	sink := &fakeSink{}
	p := testPipeline(t, st, sink, Config{Cooldown: time.Hour})
	p.Start()

	p.EmitIntent(downIntent(ids[0]))
	p.EmitIntent(downIntent(ids[0])) // same target, inside cooldown
	waitFor(t, 2*time.Second, func() bool { return p.Stats().Suppressed == 1 })
	p.Stop()

	if sink.count() != 1 {
		t.Fatalf("sends = %d, want 1", sink.count())
	}
	alerts, err := st.ListAlertsByOwner(context.Background(), 1, 10)
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("suppressed intent was persisted: %+v", alerts)
	}
}

func TestRecoveryExemptFromCooldown(t *testing.T) {
	st := openTestStore(t)
	ids := seedTargets(t, st, 1)
	sink := &fakeSink{}
	p := testPipeline(t, st, sink, Config{Cooldown: time.Hour})
	p.Start()

	p.EmitIntent(downIntent(ids[0]))
	up := Intent{OwnerID: 1, TargetID: ids[0], Kind: model.AlertUp, Title: "up", Body: "recovered"}
	p.EmitIntent(up)
	waitFor(t, 2*time.Second, func() bool { return sink.count() == 2 })
	p.Stop()

	if s := p.Stats(); s.Suppressed != 0 {
		t.Fatalf("recovery was suppressed: %+v", s)
	}
}

func TestRateLimitPersistsUnsent(t *testing.T) {
	st := openTestStore(t)
	ids := seedTargets(t, st, 3)
	sink := &fakeSink{}
	p := testPipeline(t, st, sink, Config{MaxPerHour: 2, Cooldown: time.Millisecond})
	p.Start()

	// Distinct targets so cooldown does not interfere.
	for _, id := range ids {
		p.EmitIntent(downIntent(id))
	}
	waitFor(t, 2*time.Second, func() bool { return p.Stats().RateLimited == 1 })
	p.Stop()

	if sink.count() != 2 {
		t.Fatalf("sends = %d, want 2", sink.count())
	}
	alerts, err := st.ListAlertsByOwner(context.Background(), 1, 10)
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if len(alerts) != 3 {
		t.Fatalf("alerts = %d rows, want 3 (audit trail)", len(alerts))
	}
	var unsent int
	for _, a := range alerts {
		if !a.Sent {
			unsent++
		}
	}
	if unsent != 1 {
		t.Fatalf("unsent = %d, want 1", unsent)
	}
}

func TestDeliveryRetriesThenSucceeds(t *testing.T) {
	st := openTestStore(t)
	ids := seedTargets(t, st, 1)
	sink := &fakeSink{fail: 2}
	p := testPipeline(t, st, sink, Config{RetryCount: 3})
	p.Start()

	p.EmitIntent(downIntent(ids[0]))
	waitFor(t, 2*time.Second, func() bool { return sink.count() == 1 })
	p.Stop()

	alerts, err := st.ListAlertsByOwner(context.Background(), 1, 10)
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if len(alerts) != 1 || !alerts[0].Sent || alerts[0].Retries != 2 {
		t.Fatalf("alerts = %+v", alerts)
	}
}

func TestPermanentFailureStopsRetries(t *testing.T) {
	st := openTestStore(t)
	ids := seedTargets(t, st, 1)
	sink := &fakeSink{perm: &PermanentError{StatusCode: 403, Description: "bot blocked"}}
	p := testPipeline(t, st, sink, Config{RetryCount: 5})
	p.Start()

	p.EmitIntent(downIntent(ids[0]))
	waitFor(t, 2*time.Second, func() bool { return p.Stats().Failed == 1 })
	p.Stop()

	alerts, err := st.ListAlertsByOwner(context.Background(), 1, 10)
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if len(alerts) != 1 || alerts[0].Sent {
		t.Fatalf("alerts = %+v", alerts)
	}
	if alerts[0].Retries != 0 {
		t.Fatalf("retries = %d, want 0 (no retry on permanent failure)", alerts[0].Retries)
	}
}

func TestStopDrainsQueueUnsent(t *testing.T) {
	st := openTestStore(t)
	ids := seedTargets(t, st, 5)
	p := testPipeline(t, st, &fakeSink{}, Config{})

	// Emit before starting so Stop races the dispatcher to the queue.
	// Dispatched or drained, every intent must end up as a row.
	for _, id := range ids {
		p.EmitIntent(downIntent(id))
	}
	p.Start()
	p.Stop()

	alerts, err := st.ListAlertsByOwner(context.Background(), 1, 10)
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if len(alerts) != 5 {
		t.Fatalf("alerts = %d rows, want 5", len(alerts))
	}
}

func TestQueueOverflowDrops(t *testing.T) {
	st := openTestStore(t)
	ids := seedTargets(t, st, 4)
	p := testPipeline(t, st, &fakeSink{}, Config{QueueCap: 2})

	for _, id := range ids {
		p.EmitIntent(downIntent(id))
	}
	if s := p.Stats(); s.Dropped != 2 || s.Enqueued != 2 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestCooldownGC(t *testing.T) {
	st := openTestStore(t)
	past := time.Now().Add(-3 * time.Hour)
	p := testPipeline(t, st, &fakeSink{}, Config{
		Cooldown:      time.Hour,
		DeliveryClock: func() time.Time { return past },
	})
	p.Start()
	p.EmitIntent(downIntent(seedTargets(t, st, 1)[0]))
	waitFor(t, 2*time.Second, func() bool { return p.Stats().CooldownLen == 1 })
	p.Stop()

	// Entries older than 2x the window are evicted against the real clock.
	p.now = time.Now
	if n := p.CooldownGC(2 * time.Hour); n != 1 {
		t.Fatalf("evicted %d, want 1", n)
	}
	if p.Stats().CooldownLen != 0 {
		t.Fatal("cooldown entry survived GC")
	}
}

func TestHumanDuration(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want string
	}{
		{15 * time.Second, "15s"},
		{3 * time.Minute, "3m 0s"},
		{2*time.Hour + 30*time.Minute + 15*time.Second, "2h 30m 15s"},
		{0, "0s"},
	}
	for _, c := range cases {
		if got := HumanDuration(c.in); got != c.want {
			t.Fatalf("HumanDuration(%v) = %q, want %q", c.in, got, c.want)
		}
	}
}
