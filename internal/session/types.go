// Package session decides, for each plate detection, whether it opens a
// parking session, closes one, or is rejected.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/kpark/internal/plate"
	"github.com/goodtune/kpark/internal/storage"
	"github.com/shopspring/decimal"
)

var (
	// ErrStoreUnavailable wraps a session store failure or timeout. Nothing
	// was written when it is returned.
	ErrStoreUnavailable = errors.New("session store unavailable")

	// ErrConcurrentModification means the plate's session changed between
	// read and write. Re-running the reconciliation is safe.
	ErrConcurrentModification = errors.New("concurrent modification")
)

// Detection is one plate read from a camera or a result file.
type Detection struct {
	PlateRaw   string
	Confidence float64
	ImageRef   string
	// Timestamp is when the frame was captured. It is logged only; session
	// times come from the engine clock.
	Timestamp time.Time
}

// Outcome is the decision taken for a detection.
type Outcome int

const (
	Invalid Outcome = iota
	EntryAccepted
	EntryRejectedUnregistered
	EntryRejectedDuplicateActive
	ExitAccepted
	ExitRejectedNoActiveSession
)

var outcomeNames = map[Outcome]string{
	Invalid:                      "invalid",
	EntryAccepted:                "entry_accepted",
	EntryRejectedUnregistered:    "entry_rejected_unregistered",
	EntryRejectedDuplicateActive: "entry_rejected_duplicate_active",
	ExitAccepted:                 "exit_accepted",
	ExitRejectedNoActiveSession:  "exit_rejected_no_active_session",
}

func (o Outcome) String() string {
	if name, ok := outcomeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// MarshalText renders the outcome name in JSON responses.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Accepted reports whether the detection changed a session.
func (o Outcome) Accepted() bool {
	return o == EntryAccepted || o == ExitAccepted
}

// Result describes what the engine did with a detection.
type Result struct {
	Outcome Outcome
	Plate   plate.Key

	// Session is the opened or closed session for accepted outcomes.
	Session *storage.ParkingSession

	// Set on ExitAccepted.
	DurationMinutes float64
	AmountDue       decimal.Decimal

	// Inconsistent is set when the plate had more than one active session.
	Inconsistent bool
}
