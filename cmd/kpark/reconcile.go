package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/kpark/internal/clock"
	"github.com/goodtune/kpark/internal/session"
	"github.com/goodtune/kpark/internal/storage"
	"github.com/spf13/cobra"
)

var (
	reconcileConfidence float64
	reconcileImage      string
	reconcileEntryOnly  bool
	reconcileExitOnly   bool
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile [flags] PLATE",
	Short: "Reconcile a single detection",
	Long: `Run one plate detection through the session engine and print the outcome.
With --entry-only or --exit-only the detection is treated as coming from a
lane that only admits or only releases vehicles.`,
	Example: `  kpark reconcile "AB12 CDE"
  kpark reconcile --confidence 0.93 --image frame_0042.jpg AB12CDE
  kpark reconcile --exit-only AB12CDE`,
	Args: cobra.ExactArgs(1),
	RunE: runReconcile,
}

func init() {
	reconcileCmd.Flags().Float64Var(&reconcileConfidence, "confidence", 1.0, "Recognizer confidence in [0,1]")
	reconcileCmd.Flags().StringVar(&reconcileImage, "image", "", "Image reference stored with the session")
	reconcileCmd.Flags().BoolVar(&reconcileEntryOnly, "entry-only", false, "Only open sessions")
	reconcileCmd.Flags().BoolVar(&reconcileExitOnly, "exit-only", false, "Only close sessions")
	reconcileCmd.MarkFlagsMutuallyExclusive("entry-only", "exit-only")
	rootCmd.AddCommand(reconcileCmd)
}

func runReconcile(cmd *cobra.Command, args []string) error {
	if reconcileConfidence < 0 || reconcileConfidence > 1 {
		return fmt.Errorf("confidence must be between 0 and 1: %v", reconcileConfidence)
	}

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

	det := session.Detection{
		PlateRaw:   args[0],
		Confidence: reconcileConfidence,
		ImageRef:   reconcileImage,
		Timestamp:  time.Now(),
	}

	ctx := context.Background()
	var result session.Result
	switch {
	case reconcileEntryOnly:
		result, err = engine.Entry(ctx, det)
	case reconcileExitOnly:
		result, err = engine.Exit(ctx, det)
	default:
		result, err = engine.Reconcile(ctx, det)
	}
	if err != nil {
		return fmt.Errorf("reconcile failed: %w", err)
	}

	printResult(det, result)
	return nil
}

func printResult(det session.Detection, result session.Result) {
	cyan := color.New(color.FgCyan, color.Bold)
	yellow := color.New(color.FgYellow)

	cyan.Println("=== Detection ===")
	fmt.Printf("Plate:      %s\n", det.PlateRaw)
	if result.Plate != "" {
		fmt.Printf("Normalized: %s\n", result.Plate)
	}
	fmt.Printf("Confidence: %.2f\n", det.Confidence)
	fmt.Println()

	cyan.Println("=== Outcome ===")
	fmt.Print("Outcome:    ")
	outcomeColor(result.Outcome).Println(result.Outcome)

	if s := result.Session; s != nil {
		fmt.Printf("Session:    %s\n", s.ID)
		fmt.Printf("Entry:      %s\n", storage.FormatTime(s.EntryTime))
		if s.ExitTime != nil {
			fmt.Printf("Exit:       %s\n", storage.FormatTime(*s.ExitTime))
		}
	}
	if result.Outcome == session.ExitAccepted {
		fmt.Printf("Duration:   %.1f minutes\n", result.DurationMinutes)
		fmt.Printf("Amount due: %s\n", result.AmountDue.StringFixed(2))
	}
	if result.Inconsistent {
		yellow.Println("Warning:    plate had more than one active session")
	}
}

// outcomeColor picks green for accepted outcomes, yellow for rejections and
// red for invalid detections.
func outcomeColor(o session.Outcome) *color.Color {
	switch {
	case o.Accepted():
		return color.New(color.FgGreen, color.Bold)
	case o == session.Invalid:
		return color.New(color.FgRed, color.Bold)
	default:
		return color.New(color.FgYellow, color.Bold)
	}
}
