package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/goodtune/kpark/internal/importer"
	"github.com/goodtune/kpark/internal/storage"
	"github.com/spf13/cobra"
)

var importCmd = &cobra.Command{
	Use:   "import [flags] FILE",
	Short: "Import a legacy database export",
	Long: `Import a JSON export of the legacy realtime database. Accounts and their
plates come from "users", sessions from "parking-records" and refused entries
from "unregistered-entries". Records that cannot be parsed are skipped.`,
	Example: `  kpark -c config.yaml import parking-export.json`,
	Args:    cobra.ExactArgs(1),
	RunE:    runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	export, err := importer.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read export: %w", err)
	}

	return withStore(func(ctx context.Context, store storage.Store) error {
		stats, err := importer.New(store, quietLogger()).Apply(ctx, export)
		if err != nil {
			return fmt.Errorf("import stopped: %w", err)
		}

		color.New(color.FgCyan, color.Bold).Println("=== Import Summary ===")
		fmt.Printf("Plates:       %d\n", stats.Plates)
		fmt.Printf("Sessions:     %d\n", stats.Sessions)
		fmt.Printf("Unregistered: %d\n", stats.Unregistered)
		if stats.Skipped > 0 {
			color.New(color.FgYellow, color.Bold).Printf("Skipped:      %d\n", stats.Skipped)
		} else {
			fmt.Printf("Skipped:      %d\n", stats.Skipped)
		}
		return nil
	})
}
