package dedup

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goodtune/kpark/internal/clock"
	"github.com/goodtune/kpark/internal/metrics"
	"github.com/rs/zerolog"
)

// Registry hands out one Filter per continuous source and sweeps all of them
// periodically.
type Registry struct {
	cfg      Config
	clock    clock.Clock
	logger   zerolog.Logger
	mu       sync.Mutex
	filters  map[string]*Filter
	stopChan chan struct{}
	stopOnce sync.Once
	started  atomic.Bool
	done     chan struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config, clk clock.Clock, logger zerolog.Logger) *Registry {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Registry{
		cfg:      cfg.withDefaults(),
		clock:    clk,
		logger:   logger.With().Str("component", "dedup").Logger(),
		filters:  make(map[string]*Filter),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// For returns the filter for source, creating it on first use.
func (r *Registry) For(source string) (*Filter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if f, ok := r.filters[source]; ok {
		return f, nil
	}

	f, err := NewFilter(source, r.cfg)
	if err != nil {
		return nil, err
	}
	r.filters[source] = f

	r.logger.Debug().
		Str("source", source).
		Dur("window", r.cfg.Window).
		Int("max_entries", r.cfg.MaxEntries).
		Msg("Created dedup filter")

	return f, nil
}

// Sources lists the sources that have a filter.
func (r *Registry) Sources() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	sources := make([]string, 0, len(r.filters))
	for name := range r.filters {
		sources = append(sources, name)
	}
	sort.Strings(sources)
	return sources
}

// Sweep drops stale entries from every filter and refreshes the entries gauge.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	filters := make([]*Filter, 0, len(r.filters))
	for _, f := range r.filters {
		filters = append(filters, f)
	}
	r.mu.Unlock()

	now := r.clock.Now()
	removed, remaining := 0, 0
	for _, f := range filters {
		removed += f.Sweep(now)
		remaining += f.Len()
	}

	metrics.DedupEntries.Set(float64(remaining))

	if removed > 0 {
		r.logger.Debug().
			Int("removed", removed).
			Int("remaining", remaining).
			Msg("Swept stale dedup entries")
	}

	return removed
}

// Start runs the periodic sweeper until Stop is called.
func (r *Registry) Start() {
	if !r.started.CompareAndSwap(false, true) {
		return
	}
	go r.run()
	r.logger.Info().
		Dur("window", r.cfg.Window).
		Dur("sweep_interval", r.cfg.SweepInterval).
		Msg("Dedup sweeper started")
}

// Stop stops the sweeper and waits for it to exit.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopChan)
		if r.started.Load() {
			<-r.done
		}
		r.logger.Info().Msg("Dedup sweeper stopped")
	})
}

func (r *Registry) run() {
	defer close(r.done)

	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Sweep()
		case <-r.stopChan:
			return
		}
	}
}
