// Package dedup suppresses repeated detections of the same plate from one
// continuous source. Without it a car parked in front of the camera would be
// read as entry, exit, entry, ... on every processed frame.
package dedup

import (
	"fmt"
	"sync"
	"time"

	"github.com/goodtune/kpark/internal/metrics"
	"github.com/goodtune/kpark/internal/plate"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// DefaultWindow is how long a plate stays suppressed after it was admitted.
	DefaultWindow = 30 * time.Second

	// DefaultMaxEntries bounds the number of plates remembered per source.
	DefaultMaxEntries = 10000

	// DefaultSweepInterval is how often stale entries are dropped.
	DefaultSweepInterval = time.Minute
)

// Config holds filter settings.
type Config struct {
	Window        time.Duration
	MaxEntries    int
	SweepInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = DefaultMaxEntries
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	return c
}

// Filter remembers when each plate was last admitted. Entries live at most
// one window (removed by Sweep) and the map never holds more than MaxEntries
// plates; the least recently admitted plate is evicted first.
type Filter struct {
	name    string
	window  time.Duration
	mu      sync.Mutex
	entries *lru.Cache[plate.Key, time.Time]
}

// NewFilter creates a filter for the named source.
func NewFilter(name string, cfg Config) (*Filter, error) {
	cfg = cfg.withDefaults()

	entries, err := lru.New[plate.Key, time.Time](cfg.MaxEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to create dedup cache: %w", err)
	}

	return &Filter{
		name:    name,
		window:  cfg.Window,
		entries: entries,
	}, nil
}

// Admit reports whether a detection of key at now should be reconciled. It
// returns false if key was admitted less than one window ago; otherwise it
// records now as the last admission. Suppressed detections do not extend the
// window.
func (f *Filter) Admit(key plate.Key, now time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if last, ok := f.entries.Peek(key); ok && now.Sub(last) < f.window {
		metrics.DedupSuppressed.WithLabelValues(f.name).Inc()
		return false
	}

	f.entries.Add(key, now)
	return true
}

// Sweep removes entries whose window has elapsed at now and returns how many
// were dropped.
func (f *Filter) Sweep(now time.Time) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	removed := 0
	for _, key := range f.entries.Keys() {
		last, ok := f.entries.Peek(key)
		if !ok {
			continue
		}
		if now.Sub(last) >= f.window {
			f.entries.Remove(key)
			removed++
		}
	}
	return removed
}

// Len returns the number of remembered plates.
func (f *Filter) Len() int {
	return f.entries.Len()
}

// Name returns the source this filter protects.
func (f *Filter) Name() string {
	return f.name
}

// Window returns the suppression window.
func (f *Filter) Window() time.Duration {
	return f.window
}
