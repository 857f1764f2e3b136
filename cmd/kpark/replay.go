package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/fatih/color"
	"github.com/goodtune/kpark/internal/clock"
	"github.com/goodtune/kpark/internal/session"
	"github.com/spf13/cobra"
)

var replayDir string

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Reconcile a directory of result files",
	Long: `Process every *.json result file in a directory in name order, exactly once
each. Replay does not apply the dedup window.`,
	Example: `  kpark replay --dir /var/lib/kpark/results
  kpark -c config.yaml replay --dir ./results`,
	Args: cobra.NoArgs,
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().StringVar(&replayDir, "dir", "", "Directory of result files (required)")
	replayCmd.MarkFlagRequired("dir")
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := loadCommandConfig()
	if err != nil {
		return err
	}

	logger := quietLogger()

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer closeStorage(store, logger)

	engine, err := newEngine(cfg, store, clock.RealClock{}, logger)
	if err != nil {
		return err
	}
	processor, err := newProcessor(cfg, engine, logger)
	if err != nil {
		return err
	}

	summary, err := processor.Replay(context.Background(), replayDir)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	cyan.Println("=== Replay Summary ===")
	fmt.Printf("Directory:  %s\n", replayDir)
	fmt.Printf("Files:      %d\n", summary.Files)
	fmt.Printf("Skipped:    %d\n", summary.Skipped)
	if summary.Failed > 0 {
		red.Printf("Failed:     %d\n", summary.Failed)
	} else {
		fmt.Printf("Failed:     %d\n", summary.Failed)
	}

	outcomes := make([]session.Outcome, 0, len(summary.Outcomes))
	for o := range summary.Outcomes {
		outcomes = append(outcomes, o)
	}
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i] < outcomes[j] })

	for _, o := range outcomes {
		outcomeColor(o).Printf("  %-34s %d\n", o, summary.Outcomes[o])
	}

	return nil
}
