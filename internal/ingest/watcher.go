package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/goodtune/kpark/internal/dedup"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
)

// seenFiles bounds the set of result files already handled.
const seenFiles = 4096

// Watcher streams new result files from a directory through a dedup filter.
type Watcher struct {
	dir       string
	processor *Processor
	filter    *dedup.Filter
	seen      *lru.Cache[string, struct{}]
	logger    zerolog.Logger

	// ready is closed once the directory is being watched.
	ready chan struct{}
}

// NewWatcher creates a watcher for dir.
func NewWatcher(dir string, processor *Processor, filter *dedup.Filter, logger zerolog.Logger) (*Watcher, error) {
	seen, err := lru.New[string, struct{}](seenFiles)
	if err != nil {
		return nil, err
	}

	return &Watcher{
		dir:       dir,
		processor: processor,
		filter:    filter,
		seen:      seen,
		logger:    logger.With().Str("component", "watcher").Str("dir", dir).Logger(),
		ready:     make(chan struct{}),
	}, nil
}

// Ready is closed once Run has started watching.
func (w *Watcher) Ready() <-chan struct{} {
	return w.ready
}

// Run watches until ctx is done. Files already in the directory are left to
// batch replay.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	w.logger.Info().Msg("Watching for result files")
	close(w.ready)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !strings.EqualFold(filepath.Ext(event.Name), ".json") {
				continue
			}
			w.handle(ctx, event.Name)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

func (w *Watcher) handle(ctx context.Context, path string) {
	if w.seen.Contains(path) {
		return
	}

	det, err := w.processor.loadDetection(path)
	if errors.Is(err, ErrNoPlate) {
		w.seen.Add(path, struct{}{})
		return
	}
	if err != nil {
		// Usually a partial write; the next write event retries
		w.logger.Debug().Err(err).Str("file", path).Msg("Result file not readable yet")
		return
	}
	w.seen.Add(path, struct{}{})

	result, err := w.processor.Process(ctx, det, w.filter)
	if err != nil {
		return
	}

	w.logger.Debug().
		Str("file", filepath.Base(path)).
		Str("plate", result.Plate.String()).
		Stringer("outcome", result.Outcome).
		Msg("Result file processed")
}
