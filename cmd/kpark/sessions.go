package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/goodtune/kpark/internal/clock"
	"github.com/goodtune/kpark/internal/plate"
	"github.com/goodtune/kpark/internal/storage"
	"github.com/spf13/cobra"
)

var sessionsUnregistered bool

var sessionsCmd = &cobra.Command{
	Use:   "sessions [flags] PLATE",
	Short: "Show the parking history of a plate",
	Example: `  kpark sessions AB12CDE
  kpark sessions --unregistered XY99ZZZ`,
	Args: cobra.ExactArgs(1),
	RunE: runSessions,
}

func init() {
	sessionsCmd.Flags().BoolVar(&sessionsUnregistered, "unregistered", false, "Also list refused entries for the plate")
	rootCmd.AddCommand(sessionsCmd)
}

func runSessions(cmd *cobra.Command, args []string) error {
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

	ctx := context.Background()
	sessions, err := engine.History(ctx, args[0])
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)

	cyan.Printf("=== Sessions for %s ===\n", args[0])
	if len(sessions) == 0 {
		fmt.Println("(none)")
	} else {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tENTRY\tEXIT\tMINUTES\tAMOUNT\tSTATUS")
		for _, s := range sessions {
			exit, minutes, amount := "-", "-", "-"
			if s.ExitTime != nil {
				exit = storage.FormatTime(*s.ExitTime)
			}
			if s.DurationMinutes != nil {
				minutes = strconv.FormatFloat(*s.DurationMinutes, 'f', 1, 64)
			}
			if s.AmountDue != nil {
				amount = strconv.FormatFloat(*s.AmountDue, 'f', 2, 64)
			}
			status := "closed"
			if s.Active() {
				status = green.Sprint("active")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", s.ID, storage.FormatTime(s.EntryTime), exit, minutes, amount, status)
		}
		w.Flush()
	}

	if !sessionsUnregistered {
		return nil
	}

	// History already rejected invalid plates.
	key := plate.MustNormalize(args[0])
	entries, err := store.Unregistered().ListUnregisteredEntries(ctx, key.String())
	if err != nil {
		return fmt.Errorf("failed to list unregistered entries: %w", err)
	}

	fmt.Println()
	cyan.Println("=== Refused entries ===")
	if len(entries) == 0 {
		fmt.Println("(none)")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("%s  confidence %.2f\n", storage.FormatTime(e.Timestamp), e.Confidence)
	}
	return nil
}
