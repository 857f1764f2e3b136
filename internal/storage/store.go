package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a record is missing from storage.
	ErrNotFound = errors.New("storage: record not found")

	// ErrConflict is returned when a conditional write's precondition no
	// longer holds: an active session already exists on create, or the
	// session changed since it was read on update.
	ErrConflict = errors.New("storage: conditional write conflict")

	// ErrPlateTaken is returned when a plate is already registered to a
	// different account.
	ErrPlateTaken = errors.New("storage: plate registered to another account")
)

// Store represents the root storage interface.
type Store interface {
	Close() error
	Sessions() SessionStore
	Accounts() AccountStore
	Unregistered() UnregisteredStore
}

// SessionStore holds per-plate parking session history. Writes that can break
// the one-active-session-per-plate rule are conditional.
type SessionStore interface {
	// ListSessions returns every session for plate in insertion order.
	ListSessions(ctx context.Context, plate string) ([]ParkingSession, error)

	// CreateSessionIfNoneActive appends a new open session and returns its
	// store-assigned ID, or ErrConflict if plate already has an active session.
	CreateSessionIfNoneActive(ctx context.Context, session NewSession) (string, error)

	// UpdateSessionConditional closes session id if its version still equals
	// expectedVersion and it is still active. Returns ErrConflict otherwise,
	// or ErrNotFound if the session does not exist.
	UpdateSessionConditional(ctx context.Context, plate, id string, exit SessionExit, expectedVersion int64) error

	// ImportSession appends a historical session without any precondition.
	// Only used for migrating existing records.
	ImportSession(ctx context.Context, session ParkingSession) (string, error)
}

// AccountStore manages which plates belong to registered accounts.
type AccountStore interface {
	RegisterPlate(ctx context.Context, accountID, plate string) error
	RemovePlate(ctx context.Context, accountID, plate string) error
	AccountPlates(ctx context.Context, accountID string) ([]string, error)
	RegisteredPlates(ctx context.Context) ([]string, error)
	IsRegistered(ctx context.Context, plate string) (bool, error)
}

// UnregisteredStore records entries refused because the plate has no account.
type UnregisteredStore interface {
	AppendUnregisteredEntry(ctx context.Context, entry UnregisteredEntry) error
	ListUnregisteredEntries(ctx context.Context, plate string) ([]UnregisteredEntry, error)
}
