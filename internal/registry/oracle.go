// Package registry answers whether a plate belongs to a registered account.
package registry

import (
	"context"
	"time"

	"github.com/goodtune/kpark/internal/metrics"
	"github.com/goodtune/kpark/internal/plate"
	"github.com/goodtune/kpark/internal/storage"
	"github.com/rs/zerolog"
)

// Lookup is the subset of storage.AccountStore the oracle needs.
type Lookup interface {
	IsRegistered(ctx context.Context, plate string) (bool, error)
}

var _ Lookup = (storage.AccountStore)(nil)

// Oracle reports registration status. Lookup failures are never retried and
// count as unregistered.
type Oracle struct {
	lookup  Lookup
	timeout time.Duration
	logger  zerolog.Logger
}

// NewOracle creates an oracle that bounds each lookup by timeout. A zero
// timeout leaves the caller's deadline in charge.
func NewOracle(lookup Lookup, timeout time.Duration, logger zerolog.Logger) *Oracle {
	return &Oracle{
		lookup:  lookup,
		timeout: timeout,
		logger:  logger.With().Str("component", "registry").Logger(),
	}
}

// IsRegistered reports whether key belongs to any account.
func (o *Oracle) IsRegistered(ctx context.Context, key plate.Key) bool {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	registered, err := o.lookup.IsRegistered(ctx, key.String())
	if err != nil {
		metrics.RegistrationLookupFailures.Inc()
		o.logger.Warn().
			Err(err).
			Str("plate", key.String()).
			Msg("Registration lookup failed, treating plate as unregistered")
		return false
	}

	return registered
}
