package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/kpark/internal/billing"
	"github.com/goodtune/kpark/internal/clock"
	"github.com/goodtune/kpark/internal/metrics"
	"github.com/goodtune/kpark/internal/plate"
	"github.com/goodtune/kpark/internal/storage"
	"github.com/rs/zerolog"
)

// Registration reports whether a plate belongs to an account. Implementations
// must treat lookup failures as unregistered.
type Registration interface {
	IsRegistered(ctx context.Context, key plate.Key) bool
}

// mode restricts which path a detection may take.
type mode int

const (
	modeAuto mode = iota
	modeEntry
	modeExit
)

// Engine reconciles detections against the session store. It holds no state
// of its own between calls and never retries.
type Engine struct {
	store        storage.Store
	registration Registration
	tariff       billing.Tariff
	clock        clock.Clock
	storeTimeout time.Duration
	logger       zerolog.Logger
}

// NewEngine creates a reconciliation engine. storeTimeout bounds each store
// call; zero leaves the caller's context in charge.
func NewEngine(store storage.Store, registration Registration, tariff billing.Tariff, clk clock.Clock, storeTimeout time.Duration, logger zerolog.Logger) *Engine {
	return &Engine{
		store:        store,
		registration: registration,
		tariff:       tariff,
		clock:        clk,
		storeTimeout: storeTimeout,
		logger:       logger.With().Str("component", "session-engine").Logger(),
	}
}

// Reconcile treats a detection as an exit if the plate has an active session
// and as an entry otherwise.
func (e *Engine) Reconcile(ctx context.Context, det Detection) (Result, error) {
	return e.reconcile(ctx, det, modeAuto)
}

// Entry handles a detection from an entry-only source. A plate that already
// has an active session is rejected instead of being closed.
func (e *Engine) Entry(ctx context.Context, det Detection) (Result, error) {
	return e.reconcile(ctx, det, modeEntry)
}

// Exit handles a detection from an exit-only source. A plate without an
// active session is rejected instead of being opened.
func (e *Engine) Exit(ctx context.Context, det Detection) (Result, error) {
	return e.reconcile(ctx, det, modeExit)
}

// History returns every session recorded for a raw plate, oldest first.
func (e *Engine) History(ctx context.Context, raw string) ([]storage.ParkingSession, error) {
	key, err := plate.Normalize(raw)
	if err != nil {
		return nil, err
	}

	sessions, err := e.listSessions(ctx, key)
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

func (e *Engine) reconcile(ctx context.Context, det Detection, m mode) (Result, error) {
	start := time.Now()

	result, err := e.decide(ctx, det, m)

	label := result.Outcome.String()
	if err != nil {
		label = "error"
	}
	metrics.DetectionsTotal.WithLabelValues(label).Inc()
	metrics.ReconcileDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())

	return result, err
}

func (e *Engine) decide(ctx context.Context, det Detection, m mode) (Result, error) {
	key, err := plate.Normalize(det.PlateRaw)
	if err != nil {
		e.logger.Debug().
			Str("raw", det.PlateRaw).
			Err(err).
			Msg("Ignoring detection with invalid plate")
		return Result{Outcome: Invalid}, nil
	}

	sessions, err := e.listSessions(ctx, key)
	if err != nil {
		return Result{Plate: key}, err
	}

	active, count := findActive(sessions)
	inconsistent := count > 1
	if inconsistent {
		metrics.DataInconsistenciesTotal.Inc()
		e.logger.Warn().
			Str("plate", key.String()).
			Int("active_sessions", count).
			Str("session_id", active.ID).
			Msg("Plate has more than one active session, using the oldest")
	}

	var result Result
	switch {
	case active != nil && m == modeEntry:
		e.logger.Warn().
			Str("plate", key.String()).
			Str("session_id", active.ID).
			Msg("Entry rejected, plate already has an active session")
		result = Result{Outcome: EntryRejectedDuplicateActive, Plate: key}
	case active == nil && m == modeExit:
		e.logger.Warn().
			Str("plate", key.String()).
			Msg("Exit rejected, plate has no active session")
		result = Result{Outcome: ExitRejectedNoActiveSession, Plate: key}
	case active != nil:
		result, err = e.exit(ctx, key, *active, det)
	default:
		result, err = e.entry(ctx, key, det)
	}

	result.Inconsistent = inconsistent
	return result, err
}

func (e *Engine) exit(ctx context.Context, key plate.Key, active storage.ParkingSession, det Detection) (Result, error) {
	now := e.clock.Now()

	minutes := now.Sub(active.EntryTime).Minutes()
	if minutes < 0 {
		e.logger.Warn().
			Str("plate", key.String()).
			Time("entry_time", active.EntryTime).
			Time("now", now).
			Msg("Exit precedes entry, billing zero duration")
		minutes = 0
	}

	fee := e.tariff.Fee(minutes)
	exit := storage.SessionExit{
		ExitTime:        now,
		DurationMinutes: minutes,
		AmountDue:       fee.InexactFloat64(),
		ExitConfidence:  det.Confidence,
		ExitImage:       det.ImageRef,
	}

	storeCtx, cancel := e.storeContext(ctx)
	defer cancel()

	err := e.store.Sessions().UpdateSessionConditional(storeCtx, key.String(), active.ID, exit, active.Version)
	if errors.Is(err, storage.ErrConflict) || errors.Is(err, storage.ErrNotFound) {
		metrics.ConflictsTotal.WithLabelValues("exit").Inc()
		e.logger.Warn().
			Str("plate", key.String()).
			Str("session_id", active.ID).
			Int64("version", active.Version).
			Msg("Session changed before exit could be recorded")
		return Result{Plate: key}, fmt.Errorf("%w: closing session %s for %s", ErrConcurrentModification, active.ID, key)
	}
	if err != nil {
		return Result{Plate: key}, e.storeFailure("update_session", key, err)
	}

	closed := exit.Apply(active)
	metrics.FeesChargedTotal.Add(*closed.AmountDue)
	metrics.ParkedMinutes.Observe(*closed.DurationMinutes)

	e.logger.Info().
		Str("plate", key.String()).
		Str("session_id", closed.ID).
		Float64("duration_minutes", *closed.DurationMinutes).
		Str("amount_due", fee.StringFixed(2)).
		Time("captured_at", det.Timestamp).
		Msg("Exit recorded")

	return Result{
		Outcome:         ExitAccepted,
		Plate:           key,
		Session:         &closed,
		DurationMinutes: *closed.DurationMinutes,
		AmountDue:       fee,
	}, nil
}

func (e *Engine) entry(ctx context.Context, key plate.Key, det Detection) (Result, error) {
	now := e.clock.Now()

	if !e.registration.IsRegistered(ctx, key) {
		storeCtx, cancel := e.storeContext(ctx)
		defer cancel()

		err := e.store.Unregistered().AppendUnregisteredEntry(storeCtx, storage.UnregisteredEntry{
			Plate:      key.String(),
			Timestamp:  storage.TruncateTime(now),
			Confidence: det.Confidence,
		})
		if err != nil {
			return Result{Plate: key}, e.storeFailure("append_unregistered", key, err)
		}

		e.logger.Warn().
			Str("plate", key.String()).
			Float64("confidence", det.Confidence).
			Msg("Entry rejected, plate is not registered")
		return Result{Outcome: EntryRejectedUnregistered, Plate: key}, nil
	}

	ns := storage.NewSession{
		Plate:       key.String(),
		EntryTime:   now,
		EntryMethod: storage.EntryMethodCamera,
		Confidence:  det.Confidence,
		Image:       det.ImageRef,
	}

	storeCtx, cancel := e.storeContext(ctx)
	defer cancel()

	id, err := e.store.Sessions().CreateSessionIfNoneActive(storeCtx, ns)
	if errors.Is(err, storage.ErrConflict) {
		metrics.ConflictsTotal.WithLabelValues("entry").Inc()
		e.logger.Warn().
			Str("plate", key.String()).
			Msg("Entry rejected, another session became active concurrently")
		return Result{Outcome: EntryRejectedDuplicateActive, Plate: key}, nil
	}
	if err != nil {
		return Result{Plate: key}, e.storeFailure("create_session", key, err)
	}

	opened := storage.ParkingSession{
		ID:          id,
		Plate:       ns.Plate,
		EntryTime:   storage.TruncateTime(now),
		EntryMethod: ns.EntryMethod,
		Confidence:  ns.Confidence,
		Image:       ns.Image,
		Version:     1,
	}

	e.logger.Info().
		Str("plate", key.String()).
		Str("session_id", id).
		Float64("confidence", det.Confidence).
		Time("captured_at", det.Timestamp).
		Msg("Entry recorded")

	return Result{Outcome: EntryAccepted, Plate: key, Session: &opened}, nil
}

func (e *Engine) listSessions(ctx context.Context, key plate.Key) ([]storage.ParkingSession, error) {
	storeCtx, cancel := e.storeContext(ctx)
	defer cancel()

	sessions, err := e.store.Sessions().ListSessions(storeCtx, key.String())
	if err != nil {
		return nil, e.storeFailure("list_sessions", key, err)
	}
	return sessions, nil
}

func (e *Engine) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.storeTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.storeTimeout)
}

func (e *Engine) storeFailure(operation string, key plate.Key, err error) error {
	metrics.StoreErrorsTotal.WithLabelValues(operation).Inc()
	e.logger.Error().
		Err(err).
		Str("operation", operation).
		Str("plate", key.String()).
		Msg("Session store call failed")
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, operation, err)
}

// findActive returns the first active session in insertion order and the
// number of active sessions found.
func findActive(sessions []storage.ParkingSession) (*storage.ParkingSession, int) {
	var active *storage.ParkingSession
	count := 0
	for i := range sessions {
		if !sessions[i].Active() {
			continue
		}
		if active == nil {
			active = &sessions[i]
		}
		count++
	}
	return active, count
}
