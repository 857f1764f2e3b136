package ingest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/goodtune/kpark/internal/clock"
	"github.com/goodtune/kpark/internal/dedup"
	"github.com/goodtune/kpark/internal/session"
	"github.com/rs/zerolog"
)

var startTime = time.Date(2024, 1, 15, 9, 0, 0, 0, time.Local)

// scriptedReconciler returns errs in order, then succeeds.
type scriptedReconciler struct {
	errs  []error
	calls int
}

func (s *scriptedReconciler) Reconcile(ctx context.Context, det session.Detection) (session.Result, error) {
	s.calls++
	if s.calls <= len(s.errs) {
		return session.Result{}, s.errs[s.calls-1]
	}
	return session.Result{Outcome: session.EntryAccepted}, nil
}

func conflict() error {
	return fmt.Errorf("%w: closing session", session.ErrConcurrentModification)
}

func newTestProcessor(r Reconciler, attempts int) (*Processor, *clock.TestClock) {
	clk := clock.NewTestClock(startTime)
	return NewProcessor(r, RetryConfig{MaxAttempts: attempts, InitialInterval: time.Millisecond}, clk, zerolog.Nop()), clk
}

func TestProcessor_RetriesConflicts(t *testing.T) {
	reconciler := &scriptedReconciler{errs: []error{conflict(), conflict()}}
	p, _ := newTestProcessor(reconciler, 3)

	result, err := p.Process(context.Background(), session.Detection{PlateRaw: "AB12CDE"}, nil)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if result.Outcome != session.EntryAccepted {
		t.Errorf("Expected EntryAccepted, got %s", result.Outcome)
	}
	if reconciler.calls != 3 {
		t.Errorf("Expected 3 attempts, got %d", reconciler.calls)
	}
}

func TestProcessor_GivesUpAfterMaxAttempts(t *testing.T) {
	reconciler := &scriptedReconciler{errs: []error{conflict(), conflict(), conflict(), conflict()}}
	p, _ := newTestProcessor(reconciler, 2)

	_, err := p.Process(context.Background(), session.Detection{PlateRaw: "AB12CDE"}, nil)
	if !errors.Is(err, session.ErrConcurrentModification) {
		t.Fatalf("Expected ErrConcurrentModification, got %v", err)
	}
	if reconciler.calls != 2 {
		t.Errorf("Expected 2 attempts, got %d", reconciler.calls)
	}
}

func TestProcessor_StoreErrorNotRetried(t *testing.T) {
	storeErr := fmt.Errorf("%w: list_sessions: connection refused", session.ErrStoreUnavailable)
	reconciler := &scriptedReconciler{errs: []error{storeErr}}
	p, _ := newTestProcessor(reconciler, 5)

	_, err := p.Process(context.Background(), session.Detection{PlateRaw: "AB12CDE"}, nil)
	if !errors.Is(err, session.ErrStoreUnavailable) {
		t.Fatalf("Expected ErrStoreUnavailable, got %v", err)
	}
	if reconciler.calls != 1 {
		t.Errorf("Expected a single attempt, got %d", reconciler.calls)
	}
}

func TestProcessor_DedupWindow(t *testing.T) {
	reconciler := &scriptedReconciler{}
	p, clk := newTestProcessor(reconciler, 1)

	filter, err := dedup.NewFilter("camera-1", dedup.Config{Window: 30 * time.Second})
	if err != nil {
		t.Fatalf("NewFilter failed: %v", err)
	}

	steps := []struct {
		at         time.Duration
		suppressed bool
	}{
		{at: 0, suppressed: false},
		{at: 10 * time.Second, suppressed: true},
		{at: 31 * time.Second, suppressed: false},
	}

	for _, step := range steps {
		clk.Set(startTime.Add(step.at))
		_, err := p.Process(context.Background(), session.Detection{PlateRaw: "AB12 CDE"}, filter)
		if got := errors.Is(err, ErrSuppressed); got != step.suppressed {
			t.Errorf("t=%v: suppressed = %v, want %v (err %v)", step.at, got, step.suppressed, err)
		}
	}

	if reconciler.calls != 2 {
		t.Errorf("Expected 2 reconciliations, got %d", reconciler.calls)
	}
}

func TestProcessor_InvalidPlateBypassesFilter(t *testing.T) {
	reconciler := &scriptedReconciler{}
	p, _ := newTestProcessor(reconciler, 1)

	filter, _ := dedup.NewFilter("camera-1", dedup.Config{})
	for i := 0; i < 2; i++ {
		if _, err := p.Process(context.Background(), session.Detection{PlateRaw: "A1"}, filter); err != nil {
			t.Fatalf("Process failed: %v", err)
		}
	}
	if reconciler.calls != 2 {
		t.Errorf("Expected invalid plates to reach the engine, got %d calls", reconciler.calls)
	}
}
