// Package storagetest holds behaviour every storage.Store backend must share.
// Backend packages call Run from their own tests.
package storagetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goodtune/kpark/internal/storage"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) storage.Store

var entryTime = time.Date(2024, 1, 15, 9, 0, 0, 0, time.Local)

// Run executes the shared backend tests.
func Run(t *testing.T, newStore Factory) {
	t.Run("CreateAndList", func(t *testing.T) { testCreateAndList(t, newStore(t)) })
	t.Run("CreateConflictsWhileActive", func(t *testing.T) { testCreateConflict(t, newStore(t)) })
	t.Run("UpdateConditional", func(t *testing.T) { testUpdateConditional(t, newStore(t)) })
	t.Run("UpdateNotFound", func(t *testing.T) { testUpdateNotFound(t, newStore(t)) })
	t.Run("ConcurrentCreateSingleWinner", func(t *testing.T) { testConcurrentCreate(t, newStore(t)) })
	t.Run("Accounts", func(t *testing.T) { testAccounts(t, newStore(t)) })
	t.Run("UnregisteredEntries", func(t *testing.T) { testUnregistered(t, newStore(t)) })
}

func newSession(plate string, at time.Time) storage.NewSession {
	return storage.NewSession{
		Plate:       plate,
		EntryTime:   at,
		EntryMethod: storage.EntryMethodCamera,
		Confidence:  0.91,
		Image:       "entry.jpg",
	}
}

func closeWith(at time.Time) storage.SessionExit {
	return storage.SessionExit{
		ExitTime:        at,
		DurationMinutes: 20,
		AmountDue:       2,
		ExitConfidence:  0.88,
		ExitImage:       "exit.jpg",
	}
}

func testCreateAndList(t *testing.T, store storage.Store) {
	defer func() { _ = store.Close() }()
	ctx := context.Background()
	sessions := store.Sessions()

	empty, err := sessions.ListSessions(ctx, "AB12CDE")
	if err != nil {
		t.Fatalf("ListSessions on unknown plate failed: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected no sessions, got %d", len(empty))
	}

	id, err := sessions.CreateSessionIfNoneActive(ctx, newSession("AB12CDE", entryTime))
	if err != nil {
		t.Fatalf("CreateSessionIfNoneActive failed: %v", err)
	}
	if id == "" {
		t.Fatal("expected a store-assigned ID")
	}

	got, err := sessions.ListSessions(ctx, "AB12CDE")
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 session, got %d", len(got))
	}

	s := got[0]
	if s.ID != id {
		t.Errorf("ID = %s, want %s", s.ID, id)
	}
	if s.Plate != "AB12CDE" {
		t.Errorf("Plate = %s, want AB12CDE", s.Plate)
	}
	if !s.EntryTime.Equal(entryTime) {
		t.Errorf("EntryTime = %v, want %v", s.EntryTime, entryTime)
	}
	if !s.Active() {
		t.Error("new session should be active")
	}
	if s.EntryMethod != storage.EntryMethodCamera {
		t.Errorf("EntryMethod = %s, want camera", s.EntryMethod)
	}
	if s.Confidence != 0.91 {
		t.Errorf("Confidence = %v, want 0.91", s.Confidence)
	}
	if s.Image != "entry.jpg" {
		t.Errorf("Image = %s, want entry.jpg", s.Image)
	}
	if s.Version < 1 {
		t.Errorf("Version = %d, want >= 1", s.Version)
	}
}

func testCreateConflict(t *testing.T, store storage.Store) {
	defer func() { _ = store.Close() }()
	ctx := context.Background()
	sessions := store.Sessions()

	id, err := sessions.CreateSessionIfNoneActive(ctx, newSession("AB12CDE", entryTime))
	if err != nil {
		t.Fatalf("first create failed: %v", err)
	}

	_, err = sessions.CreateSessionIfNoneActive(ctx, newSession("AB12CDE", entryTime.Add(time.Minute)))
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("second create error = %v, want ErrConflict", err)
	}

	// Another plate is unaffected.
	if _, err := sessions.CreateSessionIfNoneActive(ctx, newSession("XY99ZZZ", entryTime)); err != nil {
		t.Fatalf("create for a different plate failed: %v", err)
	}

	list, _ := sessions.ListSessions(ctx, "AB12CDE")
	if err := sessions.UpdateSessionConditional(ctx, "AB12CDE", id, closeWith(entryTime.Add(20*time.Minute)), list[0].Version); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	secondID, err := sessions.CreateSessionIfNoneActive(ctx, newSession("AB12CDE", entryTime.Add(time.Hour)))
	if err != nil {
		t.Fatalf("create after close failed: %v", err)
	}

	list, _ = sessions.ListSessions(ctx, "AB12CDE")
	if len(list) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(list))
	}
	if list[0].ID != id || list[1].ID != secondID {
		t.Errorf("sessions not in insertion order: %s, %s", list[0].ID, list[1].ID)
	}
}

func testUpdateConditional(t *testing.T, store storage.Store) {
	defer func() { _ = store.Close() }()
	ctx := context.Background()
	sessions := store.Sessions()

	id, err := sessions.CreateSessionIfNoneActive(ctx, newSession("AB12CDE", entryTime))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	list, _ := sessions.ListSessions(ctx, "AB12CDE")
	version := list[0].Version

	exitAt := entryTime.Add(20 * time.Minute)
	if err := sessions.UpdateSessionConditional(ctx, "AB12CDE", id, closeWith(exitAt), version+7); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("update with stale version error = %v, want ErrConflict", err)
	}

	if err := sessions.UpdateSessionConditional(ctx, "AB12CDE", id, closeWith(exitAt), version); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	// Replaying the same exit must not apply twice.
	if err := sessions.UpdateSessionConditional(ctx, "AB12CDE", id, closeWith(exitAt.Add(time.Hour)), version); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("replayed update error = %v, want ErrConflict", err)
	}

	list, _ = sessions.ListSessions(ctx, "AB12CDE")
	s := list[0]
	if s.Active() || !s.Paid {
		t.Error("session should be closed and paid")
	}
	if s.ExitTime == nil || !s.ExitTime.Equal(exitAt) {
		t.Errorf("ExitTime = %v, want %v", s.ExitTime, exitAt)
	}
	if s.DurationMinutes == nil || *s.DurationMinutes != 20 {
		t.Errorf("DurationMinutes = %v, want 20", s.DurationMinutes)
	}
	if s.AmountDue == nil || *s.AmountDue != 2 {
		t.Errorf("AmountDue = %v, want 2", s.AmountDue)
	}
	if s.ExitConfidence == nil || *s.ExitConfidence != 0.88 {
		t.Errorf("ExitConfidence = %v, want 0.88", s.ExitConfidence)
	}
	if s.ExitImage != "exit.jpg" {
		t.Errorf("ExitImage = %s, want exit.jpg", s.ExitImage)
	}
	if s.Version <= version {
		t.Errorf("Version = %d, want > %d", s.Version, version)
	}
}

func testUpdateNotFound(t *testing.T, store storage.Store) {
	defer func() { _ = store.Close() }()

	err := store.Sessions().UpdateSessionConditional(context.Background(), "AB12CDE", "missing", closeWith(entryTime), 1)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("update of missing session error = %v, want ErrNotFound", err)
	}
}

func testConcurrentCreate(t *testing.T, store storage.Store) {
	defer func() { _ = store.Close() }()
	ctx := context.Background()
	sessions := store.Sessions()

	const workers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		created   int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := sessions.CreateSessionIfNoneActive(ctx, newSession("AB12CDE", entryTime))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, storage.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if created != 1 || conflicts != workers-1 {
		t.Fatalf("created=%d conflicts=%d, want 1 and %d", created, conflicts, workers-1)
	}

	list, _ := sessions.ListSessions(ctx, "AB12CDE")
	active := 0
	for _, s := range list {
		if s.Active() {
			active++
		}
	}
	if active != 1 {
		t.Errorf("found %d active sessions, want 1", active)
	}
}

func testAccounts(t *testing.T, store storage.Store) {
	defer func() { _ = store.Close() }()
	ctx := context.Background()
	accounts := store.Accounts()

	registered, err := accounts.IsRegistered(ctx, "AB12CDE")
	if err != nil {
		t.Fatalf("IsRegistered failed: %v", err)
	}
	if registered {
		t.Fatal("plate should not be registered yet")
	}

	if err := accounts.RegisterPlate(ctx, "alice@example_com", "AB12CDE"); err != nil {
		t.Fatalf("RegisterPlate failed: %v", err)
	}
	if err := accounts.RegisterPlate(ctx, "alice@example_com", "CD34EFG"); err != nil {
		t.Fatalf("RegisterPlate failed: %v", err)
	}
	// Registering again for the same account is idempotent.
	if err := accounts.RegisterPlate(ctx, "alice@example_com", "AB12CDE"); err != nil {
		t.Fatalf("repeated RegisterPlate failed: %v", err)
	}
	if err := accounts.RegisterPlate(ctx, "bob@example_com", "AB12CDE"); !errors.Is(err, storage.ErrPlateTaken) {
		t.Fatalf("RegisterPlate for another account error = %v, want ErrPlateTaken", err)
	}

	registered, _ = accounts.IsRegistered(ctx, "AB12CDE")
	if !registered {
		t.Error("plate should be registered")
	}

	plates, err := accounts.AccountPlates(ctx, "alice@example_com")
	if err != nil {
		t.Fatalf("AccountPlates failed: %v", err)
	}
	if len(plates) != 2 || plates[0] != "AB12CDE" || plates[1] != "CD34EFG" {
		t.Errorf("AccountPlates = %v", plates)
	}

	all, err := accounts.RegisteredPlates(ctx)
	if err != nil {
		t.Fatalf("RegisteredPlates failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("RegisteredPlates = %v, want 2 plates", all)
	}

	if err := accounts.RemovePlate(ctx, "bob@example_com", "AB12CDE"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("RemovePlate by non-owner error = %v, want ErrNotFound", err)
	}
	if err := accounts.RemovePlate(ctx, "alice@example_com", "AB12CDE"); err != nil {
		t.Fatalf("RemovePlate failed: %v", err)
	}
	registered, _ = accounts.IsRegistered(ctx, "AB12CDE")
	if registered {
		t.Error("removed plate should no longer be registered")
	}
	if err := accounts.RegisterPlate(ctx, "bob@example_com", "AB12CDE"); err != nil {
		t.Errorf("plate should be free for another account after removal: %v", err)
	}
}

func testUnregistered(t *testing.T, store storage.Store) {
	defer func() { _ = store.Close() }()
	ctx := context.Background()
	unregistered := store.Unregistered()

	for i, c := range []float64{0.5, 0.75} {
		err := unregistered.AppendUnregisteredEntry(ctx, storage.UnregisteredEntry{
			Plate:      "ZZ99ZZZ",
			Timestamp:  entryTime.Add(time.Duration(i) * time.Minute),
			Confidence: c,
		})
		if err != nil {
			t.Fatalf("AppendUnregisteredEntry failed: %v", err)
		}
	}

	entries, err := unregistered.ListUnregisteredEntries(ctx, "ZZ99ZZZ")
	if err != nil {
		t.Fatalf("ListUnregisteredEntries failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Confidence != 0.5 || entries[1].Confidence != 0.75 {
		t.Errorf("entries out of order: %+v", entries)
	}
	if !entries[1].Timestamp.Equal(entryTime.Add(time.Minute)) {
		t.Errorf("Timestamp = %v", entries[1].Timestamp)
	}
	if entries[0].Plate != "ZZ99ZZZ" {
		t.Errorf("Plate = %s", entries[0].Plate)
	}

	none, err := unregistered.ListUnregisteredEntries(ctx, "AB12CDE")
	if err != nil {
		t.Fatalf("ListUnregisteredEntries failed: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected no entries, got %d", len(none))
	}
}
