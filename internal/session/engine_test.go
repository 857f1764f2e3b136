package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goodtune/kpark/internal/billing"
	"github.com/goodtune/kpark/internal/clock"
	"github.com/goodtune/kpark/internal/metrics"
	"github.com/goodtune/kpark/internal/registry"
	"github.com/goodtune/kpark/internal/storage"
	"github.com/goodtune/kpark/internal/storage/memory"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

var startTime = time.Date(2024, 1, 15, 9, 0, 0, 0, time.Local)

func newTestEngine(t *testing.T, store storage.Store) (*Engine, *clock.TestClock) {
	t.Helper()

	clk := clock.NewTestClock(startTime)
	oracle := registry.NewOracle(store.Accounts(), time.Second, zerolog.Nop())
	return NewEngine(store, oracle, billing.DefaultTariff(), clk, time.Second, zerolog.Nop()), clk
}

func register(t *testing.T, store storage.Store, plates ...string) {
	t.Helper()

	for _, p := range plates {
		if err := store.Accounts().RegisterPlate(context.Background(), "driver@example_com", p); err != nil {
			t.Fatalf("RegisterPlate(%s) failed: %v", p, err)
		}
	}
}

func detection(raw string, confidence float64) Detection {
	return Detection{
		PlateRaw:   raw,
		Confidence: confidence,
		ImageRef:   "frames/" + raw + ".jpg",
		Timestamp:  startTime,
	}
}

func TestEngine_EntryThenExit(t *testing.T) {
	store := memory.New()
	register(t, store, "AB12CDE")
	engine, clk := newTestEngine(t, store)
	ctx := context.Background()

	result, err := engine.Reconcile(ctx, detection("AB12 CDE", 0.91))
	if err != nil {
		t.Fatalf("Reconcile entry failed: %v", err)
	}
	if result.Outcome != EntryAccepted {
		t.Fatalf("Expected EntryAccepted, got %s", result.Outcome)
	}
	if result.Plate != "AB12CDE" {
		t.Errorf("Expected plate AB12CDE, got %s", result.Plate)
	}
	if result.Session == nil || result.Session.EntryMethod != storage.EntryMethodCamera {
		t.Fatalf("Expected camera session, got %+v", result.Session)
	}

	clk.Advance(20 * time.Minute)

	result, err = engine.Reconcile(ctx, detection("AB12 CDE", 0.88))
	if err != nil {
		t.Fatalf("Reconcile exit failed: %v", err)
	}
	if result.Outcome != ExitAccepted {
		t.Fatalf("Expected ExitAccepted, got %s", result.Outcome)
	}
	if got := result.AmountDue.StringFixed(2); got != "2.00" {
		t.Errorf("Expected amount 2.00, got %s", got)
	}
	if result.DurationMinutes != 20.0 {
		t.Errorf("Expected 20.0 minutes, got %v", result.DurationMinutes)
	}

	sessions, err := engine.History(ctx, "ab12cde")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("Expected 1 session, got %d", len(sessions))
	}

	s := sessions[0]
	if !s.Paid {
		t.Error("Expected session to be paid")
	}
	if s.AmountDue == nil || *s.AmountDue != 2 {
		t.Errorf("Expected stored amount 2, got %v", s.AmountDue)
	}
	if s.ExitConfidence == nil || *s.ExitConfidence != 0.88 {
		t.Errorf("Expected exit confidence 0.88, got %v", s.ExitConfidence)
	}
	if s.Confidence != 0.91 {
		t.Errorf("Expected entry confidence 0.91, got %v", s.Confidence)
	}
	if !s.ExitTime.Equal(startTime.Add(20 * time.Minute)) {
		t.Errorf("Unexpected exit time %v", s.ExitTime)
	}
}

func TestEngine_ExitFees(t *testing.T) {
	tests := []struct {
		name   string
		parked time.Duration
		want   string
	}{
		{name: "inside grace", parked: 5 * time.Minute, want: "0.00"},
		{name: "grace boundary", parked: 10 * time.Minute, want: "0.00"},
		{name: "just past grace", parked: 10*time.Minute + time.Second, want: "2.00"},
		{name: "second hour", parked: 61 * time.Minute, want: "4.00"},
		{name: "capped", parked: 5 * time.Hour, want: "10.00"},
		{name: "clock skew", parked: -3 * time.Minute, want: "0.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.New()
			register(t, store, "AB12CDE")
			engine, clk := newTestEngine(t, store)
			ctx := context.Background()

			if _, err := engine.Reconcile(ctx, detection("AB12CDE", 0.9)); err != nil {
				t.Fatalf("Reconcile entry failed: %v", err)
			}

			clk.Advance(tt.parked)

			result, err := engine.Reconcile(ctx, detection("AB12CDE", 0.9))
			if err != nil {
				t.Fatalf("Reconcile exit failed: %v", err)
			}
			if result.Outcome != ExitAccepted {
				t.Fatalf("Expected ExitAccepted, got %s", result.Outcome)
			}
			if got := result.AmountDue.StringFixed(2); got != tt.want {
				t.Errorf("Expected amount %s, got %s", tt.want, got)
			}
			if result.DurationMinutes < 0 {
				t.Errorf("Duration must not be negative, got %v", result.DurationMinutes)
			}
		})
	}
}

func TestEngine_Unregistered(t *testing.T) {
	store := memory.New()
	engine, _ := newTestEngine(t, store)
	ctx := context.Background()

	result, err := engine.Reconcile(ctx, detection("ZZ99 ZZZ", 0.77))
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if result.Outcome != EntryRejectedUnregistered {
		t.Fatalf("Expected EntryRejectedUnregistered, got %s", result.Outcome)
	}

	entries, err := store.Unregistered().ListUnregisteredEntries(ctx, "ZZ99ZZZ")
	if err != nil {
		t.Fatalf("ListUnregisteredEntries failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected 1 unregistered entry, got %d", len(entries))
	}
	if entries[0].Confidence != 0.77 || !entries[0].Timestamp.Equal(startTime) {
		t.Errorf("Unexpected entry %+v", entries[0])
	}

	sessions, err := store.Sessions().ListSessions(ctx, "ZZ99ZZZ")
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 0 {
		t.Errorf("Expected no sessions, got %d", len(sessions))
	}
}

func TestEngine_InvalidPlate(t *testing.T) {
	store := memory.New()
	engine, _ := newTestEngine(t, store)

	for _, raw := range []string{"", "AB 1", "AB-12-CDE", "  "} {
		result, err := engine.Reconcile(context.Background(), detection(raw, 0.9))
		if err != nil {
			t.Errorf("Reconcile(%q) returned error: %v", raw, err)
		}
		if result.Outcome != Invalid {
			t.Errorf("Reconcile(%q): expected Invalid, got %s", raw, result.Outcome)
		}
	}

	if _, err := engine.History(context.Background(), "AB 1"); err == nil {
		t.Error("Expected History to reject an invalid plate")
	}
}

func TestEngine_EntryOnlyAndExitOnly(t *testing.T) {
	store := memory.New()
	register(t, store, "AB12CDE")
	engine, clk := newTestEngine(t, store)
	ctx := context.Background()

	result, err := engine.Exit(ctx, detection("AB12CDE", 0.9))
	if err != nil {
		t.Fatalf("Exit failed: %v", err)
	}
	if result.Outcome != ExitRejectedNoActiveSession {
		t.Errorf("Expected ExitRejectedNoActiveSession, got %s", result.Outcome)
	}

	if result, err = engine.Entry(ctx, detection("AB12CDE", 0.9)); err != nil || result.Outcome != EntryAccepted {
		t.Fatalf("Expected EntryAccepted, got %s (%v)", result.Outcome, err)
	}

	result, err = engine.Entry(ctx, detection("AB12CDE", 0.9))
	if err != nil {
		t.Fatalf("Entry failed: %v", err)
	}
	if result.Outcome != EntryRejectedDuplicateActive {
		t.Errorf("Expected EntryRejectedDuplicateActive, got %s", result.Outcome)
	}

	clk.Advance(90 * time.Minute)

	result, err = engine.Exit(ctx, detection("AB12CDE", 0.9))
	if err != nil {
		t.Fatalf("Exit failed: %v", err)
	}
	if result.Outcome != ExitAccepted || result.AmountDue.StringFixed(2) != "4.00" {
		t.Errorf("Expected ExitAccepted with 4.00, got %s %s", result.Outcome, result.AmountDue.StringFixed(2))
	}
}

// staleStore serves a fixed session list so two engines can race on the
// same read.
type staleStore struct {
	storage.Store
	snapshot []storage.ParkingSession
}

type staleSessions struct {
	storage.SessionStore
	snapshot []storage.ParkingSession
}

func (s *staleStore) Sessions() storage.SessionStore {
	return &staleSessions{SessionStore: s.Store.Sessions(), snapshot: s.snapshot}
}

func (s *staleSessions) ListSessions(ctx context.Context, plate string) ([]storage.ParkingSession, error) {
	out := make([]storage.ParkingSession, len(s.snapshot))
	copy(out, s.snapshot)
	return out, nil
}

func TestEngine_ExitReplayIsConcurrentModification(t *testing.T) {
	store := memory.New()
	register(t, store, "AB12CDE")
	engine, clk := newTestEngine(t, store)
	ctx := context.Background()

	if _, err := engine.Reconcile(ctx, detection("AB12CDE", 0.9)); err != nil {
		t.Fatalf("Reconcile entry failed: %v", err)
	}

	snapshot, err := store.Sessions().ListSessions(ctx, "AB12CDE")
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}

	clk.Advance(30 * time.Minute)
	if result, err := engine.Reconcile(ctx, detection("AB12CDE", 0.9)); err != nil || result.Outcome != ExitAccepted {
		t.Fatalf("Expected ExitAccepted, got %s (%v)", result.Outcome, err)
	}

	before := testutil.ToFloat64(metrics.ConflictsTotal.WithLabelValues("exit"))

	staleEngine, _ := newTestEngine(t, &staleStore{Store: store, snapshot: snapshot})
	_, err = staleEngine.Reconcile(ctx, detection("AB12CDE", 0.9))
	if !errors.Is(err, ErrConcurrentModification) {
		t.Fatalf("Expected ErrConcurrentModification, got %v", err)
	}

	if got := testutil.ToFloat64(metrics.ConflictsTotal.WithLabelValues("exit")) - before; got != 1 {
		t.Errorf("Expected exit conflict counter +1, got %v", got)
	}

	sessions, _ := store.Sessions().ListSessions(ctx, "AB12CDE")
	if len(sessions) != 1 || sessions[0].Version != 2 {
		t.Fatalf("Expected one session at version 2, got %+v", sessions)
	}
	if *sessions[0].AmountDue != 2 {
		t.Errorf("Amount must be set once, got %v", *sessions[0].AmountDue)
	}
}

func TestEngine_ConcurrentEntrySingleWinner(t *testing.T) {
	store := memory.New()
	register(t, store, "AB12CDE")
	engine, _ := newTestEngine(t, store)

	const workers = 16
	var wg sync.WaitGroup
	outcomes := make(chan Outcome, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := engine.Entry(context.Background(), detection("AB12CDE", 0.9))
			if err != nil {
				t.Errorf("Entry failed: %v", err)
				return
			}
			outcomes <- result.Outcome
		}()
	}
	wg.Wait()
	close(outcomes)

	accepted := 0
	for o := range outcomes {
		switch o {
		case EntryAccepted:
			accepted++
		case EntryRejectedDuplicateActive:
		default:
			t.Errorf("Unexpected outcome %s", o)
		}
	}
	if accepted != 1 {
		t.Errorf("Expected exactly one accepted entry, got %d", accepted)
	}

	sessions, _ := store.Sessions().ListSessions(context.Background(), "AB12CDE")
	if len(sessions) != 1 {
		t.Errorf("Expected 1 session, got %d", len(sessions))
	}
}

func TestEngine_DataInconsistency(t *testing.T) {
	store := memory.New()
	register(t, store, "AB12CDE")
	engine, _ := newTestEngine(t, store)
	ctx := context.Background()

	first, _ := store.Sessions().ImportSession(ctx, storage.ParkingSession{
		Plate:     "AB12CDE",
		EntryTime: startTime.Add(-2 * time.Hour),
	})
	_, _ = store.Sessions().ImportSession(ctx, storage.ParkingSession{
		Plate:     "AB12CDE",
		EntryTime: startTime.Add(-time.Hour),
	})

	before := testutil.ToFloat64(metrics.DataInconsistenciesTotal)

	result, err := engine.Reconcile(ctx, detection("AB12CDE", 0.9))
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if result.Outcome != ExitAccepted {
		t.Fatalf("Expected ExitAccepted, got %s", result.Outcome)
	}
	if !result.Inconsistent {
		t.Error("Expected result to be flagged inconsistent")
	}
	if result.Session.ID != first {
		t.Errorf("Expected first active session %s to be closed, got %s", first, result.Session.ID)
	}
	if got := testutil.ToFloat64(metrics.DataInconsistenciesTotal) - before; got != 1 {
		t.Errorf("Expected inconsistency counter +1, got %v", got)
	}
}

func TestEngine_StoreUnavailable(t *testing.T) {
	store := memory.New()
	register(t, store, "AB12CDE")
	engine, _ := newTestEngine(t, store)

	cause := errors.New("connection reset")
	store.FailWith(cause)

	_, err := engine.Reconcile(context.Background(), detection("AB12CDE", 0.9))
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("Expected ErrStoreUnavailable, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("Expected error to wrap the cause, got %v", err)
	}

	store.FailWith(nil)
	sessions, _ := store.Sessions().ListSessions(context.Background(), "AB12CDE")
	if len(sessions) != 0 {
		t.Errorf("Expected no mutation, got %d sessions", len(sessions))
	}
}

// slowStore blocks session listing until the store deadline expires.
type slowStore struct {
	storage.Store
}

type slowSessions struct {
	storage.SessionStore
}

func (s *slowStore) Sessions() storage.SessionStore {
	return &slowSessions{SessionStore: s.Store.Sessions()}
}

func (s *slowSessions) ListSessions(ctx context.Context, plate string) ([]storage.ParkingSession, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestEngine_StoreTimeout(t *testing.T) {
	store := &slowStore{Store: memory.New()}
	clk := clock.NewTestClock(startTime)
	oracle := registry.NewOracle(store.Accounts(), time.Second, zerolog.Nop())
	engine := NewEngine(store, oracle, billing.DefaultTariff(), clk, 20*time.Millisecond, zerolog.Nop())

	_, err := engine.Reconcile(context.Background(), detection("AB12CDE", 0.9))
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("Expected ErrStoreUnavailable, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded cause, got %v", err)
	}
}

func TestOutcome_String(t *testing.T) {
	if got := ExitAccepted.String(); got != "exit_accepted" {
		t.Errorf("Expected exit_accepted, got %s", got)
	}
	if got := Outcome(42).String(); got != "outcome(42)" {
		t.Errorf("Expected outcome(42), got %s", got)
	}
	if !EntryAccepted.Accepted() || EntryRejectedUnregistered.Accepted() {
		t.Error("Accepted reports the wrong outcomes")
	}
}
