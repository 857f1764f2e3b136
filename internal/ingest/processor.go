package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goodtune/kpark/internal/clock"
	"github.com/goodtune/kpark/internal/dedup"
	"github.com/goodtune/kpark/internal/metrics"
	"github.com/goodtune/kpark/internal/plate"
	"github.com/goodtune/kpark/internal/session"
	"github.com/rs/zerolog"
)

// ErrSuppressed is returned when a streaming detection falls inside the
// plate's dedup window. Nothing was reconciled.
var ErrSuppressed = errors.New("detection suppressed by dedup window")

// Reconciler is the part of session.Engine the processor drives.
type Reconciler interface {
	Reconcile(ctx context.Context, det session.Detection) (session.Result, error)
}

// RetryConfig bounds how often a conflicting reconciliation is re-run.
type RetryConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
}

// Processor runs detections through the engine, re-running the whole
// reconciliation when it lost a race with another writer.
type Processor struct {
	reconciler Reconciler
	retry      RetryConfig
	clock      clock.Clock
	logger     zerolog.Logger
}

// NewProcessor creates a processor.
func NewProcessor(reconciler Reconciler, retry RetryConfig, clk clock.Clock, logger zerolog.Logger) *Processor {
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}
	if retry.InitialInterval <= 0 {
		retry.InitialInterval = 50 * time.Millisecond
	}

	return &Processor{
		reconciler: reconciler,
		retry:      retry,
		clock:      clk,
		logger:     logger.With().Str("component", "ingest").Logger(),
	}
}

// Process reconciles det. filter is nil for batch sources; streaming sources
// pass their own dedup filter.
func (p *Processor) Process(ctx context.Context, det session.Detection, filter *dedup.Filter) (session.Result, error) {
	if filter != nil {
		// Invalid plates skip the filter and are reported by the engine
		if key, err := plate.Normalize(det.PlateRaw); err == nil && !filter.Admit(key, p.clock.Now()) {
			p.logger.Debug().
				Str("plate", key.String()).
				Str("source", filter.Name()).
				Msg("Detection suppressed")
			return session.Result{Plate: key}, ErrSuppressed
		}
	}

	var result session.Result
	operation := func() error {
		var err error
		result, err = p.reconciler.Reconcile(ctx, det)
		if err == nil {
			return nil
		}
		if errors.Is(err, session.ErrConcurrentModification) {
			return err
		}
		return backoff.Permanent(err)
	}

	notify := func(err error, wait time.Duration) {
		metrics.RetriesTotal.Inc()
		p.logger.Debug().
			Err(err).
			Str("plate", det.PlateRaw).
			Dur("wait", wait).
			Msg("Retrying reconciliation after conflict")
	}

	err := backoff.RetryNotify(operation, p.backOff(ctx), notify)
	if err != nil {
		p.logger.Error().
			Err(err).
			Str("plate", det.PlateRaw).
			Msg("Detection could not be reconciled")
	}

	return result, err
}

func (p *Processor) backOff(ctx context.Context) backoff.BackOff {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = p.retry.InitialInterval
	expo.MaxInterval = 20 * p.retry.InitialInterval
	expo.MaxElapsedTime = 0

	return backoff.WithContext(backoff.WithMaxRetries(expo, uint64(p.retry.MaxAttempts-1)), ctx)
}
