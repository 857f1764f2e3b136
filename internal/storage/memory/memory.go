// Package memory is an in-process storage.Store. It holds no data across
// restarts and exists for tests, demos and dry runs.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/goodtune/kpark/internal/storage"
)

// Store implements storage.Store in memory.
type Store struct {
	mu           sync.Mutex
	sessions     map[string][]storage.ParkingSession // plate -> sessions in insertion order
	owners       map[string]string                   // plate -> account
	accounts     map[string]map[string]struct{}      // account -> plates
	unregistered map[string][]storage.UnregisteredEntry

	sessionStore      *sessionStore
	accountStore      *accountStore
	unregisteredStore *unregisteredStore

	// Hook used by tests to fail store calls.
	failWith error
}

// New creates an empty store.
func New() *Store {
	s := &Store{
		sessions:     make(map[string][]storage.ParkingSession),
		owners:       make(map[string]string),
		accounts:     make(map[string]map[string]struct{}),
		unregistered: make(map[string][]storage.UnregisteredEntry),
	}
	s.sessionStore = &sessionStore{s}
	s.accountStore = &accountStore{s}
	s.unregisteredStore = &unregisteredStore{s}
	return s
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

// Sessions returns the SessionStore implementation
func (s *Store) Sessions() storage.SessionStore {
	return s.sessionStore
}

// Accounts returns the AccountStore implementation
func (s *Store) Accounts() storage.AccountStore {
	return s.accountStore
}

// Unregistered returns the UnregisteredStore implementation
func (s *Store) Unregistered() storage.UnregisteredStore {
	return s.unregisteredStore
}

// FailWith makes every subsequent call return err until cleared with nil.
func (s *Store) FailWith(err error) {
	s.mu.Lock()
	s.failWith = err
	s.mu.Unlock()
}

// lock acquires the store mutex and reports a pending failure or a done
// context. The caller must unlock when err is nil.
func (s *Store) lock(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.failWith != nil {
		err := s.failWith
		s.mu.Unlock()
		return err
	}
	return nil
}

type sessionStore struct{ s *Store }

func (m *sessionStore) ListSessions(ctx context.Context, plate string) ([]storage.ParkingSession, error) {
	if err := m.s.lock(ctx); err != nil {
		return nil, err
	}
	defer m.s.mu.Unlock()

	existing := m.s.sessions[plate]
	out := make([]storage.ParkingSession, len(existing))
	copy(out, existing)
	return out, nil
}

func (m *sessionStore) CreateSessionIfNoneActive(ctx context.Context, ns storage.NewSession) (string, error) {
	if err := m.s.lock(ctx); err != nil {
		return "", err
	}
	defer m.s.mu.Unlock()

	for _, existing := range m.s.sessions[ns.Plate] {
		if existing.Active() {
			return "", storage.ErrConflict
		}
	}

	session := storage.ParkingSession{
		ID:          storage.NewID(),
		Plate:       ns.Plate,
		EntryTime:   storage.TruncateTime(ns.EntryTime),
		EntryMethod: ns.EntryMethod,
		Confidence:  ns.Confidence,
		Image:       ns.Image,
		Version:     1,
	}
	m.s.sessions[ns.Plate] = append(m.s.sessions[ns.Plate], session)
	return session.ID, nil
}

func (m *sessionStore) UpdateSessionConditional(ctx context.Context, plate, id string, exit storage.SessionExit, expectedVersion int64) error {
	if err := m.s.lock(ctx); err != nil {
		return err
	}
	defer m.s.mu.Unlock()

	sessions := m.s.sessions[plate]
	for i, existing := range sessions {
		if existing.ID != id {
			continue
		}
		if existing.Version != expectedVersion || !existing.Active() {
			return storage.ErrConflict
		}
		sessions[i] = exit.Apply(existing)
		return nil
	}
	return storage.ErrNotFound
}

func (m *sessionStore) ImportSession(ctx context.Context, session storage.ParkingSession) (string, error) {
	if err := m.s.lock(ctx); err != nil {
		return "", err
	}
	defer m.s.mu.Unlock()

	if session.ID == "" {
		session.ID = storage.NewID()
	}
	if session.Version == 0 {
		session.Version = 1
	}
	session.EntryTime = storage.TruncateTime(session.EntryTime)
	m.s.sessions[session.Plate] = append(m.s.sessions[session.Plate], session)
	return session.ID, nil
}

type accountStore struct{ s *Store }

func (m *accountStore) RegisterPlate(ctx context.Context, accountID, plate string) error {
	if err := m.s.lock(ctx); err != nil {
		return err
	}
	defer m.s.mu.Unlock()

	if owner, ok := m.s.owners[plate]; ok && owner != accountID {
		return storage.ErrPlateTaken
	}

	plates, ok := m.s.accounts[accountID]
	if !ok {
		plates = make(map[string]struct{})
		m.s.accounts[accountID] = plates
	}
	plates[plate] = struct{}{}
	m.s.owners[plate] = accountID
	return nil
}

func (m *accountStore) RemovePlate(ctx context.Context, accountID, plate string) error {
	if err := m.s.lock(ctx); err != nil {
		return err
	}
	defer m.s.mu.Unlock()

	if owner, ok := m.s.owners[plate]; !ok || owner != accountID {
		return storage.ErrNotFound
	}
	delete(m.s.owners, plate)
	delete(m.s.accounts[accountID], plate)
	return nil
}

func (m *accountStore) AccountPlates(ctx context.Context, accountID string) ([]string, error) {
	if err := m.s.lock(ctx); err != nil {
		return nil, err
	}
	defer m.s.mu.Unlock()

	plates := make([]string, 0, len(m.s.accounts[accountID]))
	for p := range m.s.accounts[accountID] {
		plates = append(plates, p)
	}
	sort.Strings(plates)
	return plates, nil
}

func (m *accountStore) RegisteredPlates(ctx context.Context) ([]string, error) {
	if err := m.s.lock(ctx); err != nil {
		return nil, err
	}
	defer m.s.mu.Unlock()

	plates := make([]string, 0, len(m.s.owners))
	for p := range m.s.owners {
		plates = append(plates, p)
	}
	sort.Strings(plates)
	return plates, nil
}

func (m *accountStore) IsRegistered(ctx context.Context, plate string) (bool, error) {
	if err := m.s.lock(ctx); err != nil {
		return false, err
	}
	defer m.s.mu.Unlock()

	_, ok := m.s.owners[plate]
	return ok, nil
}

type unregisteredStore struct{ s *Store }

func (m *unregisteredStore) AppendUnregisteredEntry(ctx context.Context, entry storage.UnregisteredEntry) error {
	if err := m.s.lock(ctx); err != nil {
		return err
	}
	defer m.s.mu.Unlock()

	entry.ID = storage.NewID()
	entry.Timestamp = storage.TruncateTime(entry.Timestamp)
	m.s.unregistered[entry.Plate] = append(m.s.unregistered[entry.Plate], entry)
	return nil
}

func (m *unregisteredStore) ListUnregisteredEntries(ctx context.Context, plate string) ([]storage.UnregisteredEntry, error) {
	if err := m.s.lock(ctx); err != nil {
		return nil, err
	}
	defer m.s.mu.Unlock()

	existing := m.s.unregistered[plate]
	out := make([]storage.UnregisteredEntry, len(existing))
	copy(out, existing)
	return out, nil
}
