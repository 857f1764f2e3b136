package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/goodtune/kpark/internal/session"
)

// Summary tallies a batch replay.
type Summary struct {
	Files    int
	Skipped  int
	Failed   int
	Outcomes map[session.Outcome]int
}

// Replay processes every *.json result file in dir in name order. The
// recognizer names files by capture time, so name order is capture order.
// Batch replay does not deduplicate. A failing file is counted and the
// replay moves on.
func (p *Processor) Replay(ctx context.Context, dir string) (Summary, error) {
	summary := Summary{Outcomes: make(map[session.Outcome]int)}

	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return summary, fmt.Errorf("list result files: %w", err)
	}
	sort.Strings(paths)

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Files++

		det, err := p.loadDetection(path)
		if errors.Is(err, ErrNoPlate) {
			summary.Skipped++
			continue
		}
		if err != nil {
			summary.Failed++
			p.logger.Warn().Err(err).Str("file", path).Msg("Skipping unreadable result file")
			continue
		}

		result, err := p.Process(ctx, det, nil)
		if err != nil {
			summary.Failed++
			continue
		}
		summary.Outcomes[result.Outcome]++
	}

	p.logger.Info().
		Str("dir", dir).
		Int("files", summary.Files).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Msg("Replay finished")

	return summary, nil
}

func (p *Processor) loadDetection(path string) (session.Detection, error) {
	result, err := ReadResultFile(path)
	if err != nil {
		return session.Detection{}, err
	}
	return result.Detection()
}
