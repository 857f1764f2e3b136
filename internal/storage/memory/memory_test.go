package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/goodtune/kpark/internal/storage"
	"github.com/goodtune/kpark/internal/storage/storagetest"
)

func TestConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		return New()
	})
}

func TestFailWith(t *testing.T) {
	store := New()
	boom := errors.New("boom")
	store.FailWith(boom)

	if _, err := store.Sessions().ListSessions(context.Background(), "AB12CDE"); !errors.Is(err, boom) {
		t.Fatalf("ListSessions error = %v, want boom", err)
	}

	store.FailWith(nil)
	if _, err := store.Sessions().ListSessions(context.Background(), "AB12CDE"); err != nil {
		t.Fatalf("ListSessions after clearing failure: %v", err)
	}
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := New().Accounts().IsRegistered(ctx, "AB12CDE"); !errors.Is(err, context.Canceled) {
		t.Fatalf("IsRegistered error = %v, want context.Canceled", err)
	}
}

func TestImportSessionAllowsInconsistentHistory(t *testing.T) {
	store := New()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := store.Sessions().ImportSession(ctx, storage.ParkingSession{Plate: "AB12CDE"}); err != nil {
			t.Fatalf("ImportSession failed: %v", err)
		}
	}

	list, _ := store.Sessions().ListSessions(ctx, "AB12CDE")
	if len(list) != 2 || !list[0].Active() || !list[1].Active() {
		t.Fatalf("expected two active imported sessions, got %+v", list)
	}
}
