package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/goodtune/kpark/internal/plate"
	"github.com/goodtune/kpark/internal/storage"
	"github.com/spf13/cobra"
)

var platesCmd = &cobra.Command{
	Use:   "plates",
	Short: "Manage registered plates",
	Long:  `Register, remove and list the plates owned by an account. Only registered plates are admitted.`,
}

var platesRegisterCmd = &cobra.Command{
	Use:     "register ACCOUNT PLATE",
	Short:   "Register a plate to an account",
	Example: `  kpark plates register alice@example.com "AB12 CDE"`,
	Args:    cobra.ExactArgs(2),
	RunE:    runPlatesRegister,
}

var platesRemoveCmd = &cobra.Command{
	Use:     "remove ACCOUNT PLATE",
	Short:   "Remove a plate from an account",
	Example: `  kpark plates remove alice@example.com AB12CDE`,
	Args:    cobra.ExactArgs(2),
	RunE:    runPlatesRemove,
}

var platesListCmd = &cobra.Command{
	Use:   "list [ACCOUNT]",
	Short: "List plates of an account, or every registered plate",
	Example: `  kpark plates list alice@example.com
  kpark plates list`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPlatesList,
}

func init() {
	platesCmd.AddCommand(platesRegisterCmd)
	platesCmd.AddCommand(platesRemoveCmd)
	platesCmd.AddCommand(platesListCmd)
	rootCmd.AddCommand(platesCmd)
}

// withStore opens the configured store for the duration of fn.
func withStore(fn func(ctx context.Context, store storage.Store) error) error {
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

	return fn(context.Background(), store)
}

func runPlatesRegister(cmd *cobra.Command, args []string) error {
	account := args[0]
	key, err := plate.Normalize(args[1])
	if err != nil {
		return err
	}

	return withStore(func(ctx context.Context, store storage.Store) error {
		if err := store.Accounts().RegisterPlate(ctx, account, key.String()); err != nil {
			if errors.Is(err, storage.ErrPlateTaken) {
				return fmt.Errorf("plate %s is already registered under another account", key)
			}
			return fmt.Errorf("failed to register plate: %w", err)
		}
		color.New(color.FgGreen, color.Bold).Printf("Registered %s to %s\n", key, account)
		return nil
	})
}

func runPlatesRemove(cmd *cobra.Command, args []string) error {
	account := args[0]
	key, err := plate.Normalize(args[1])
	if err != nil {
		return err
	}

	return withStore(func(ctx context.Context, store storage.Store) error {
		if err := store.Accounts().RemovePlate(ctx, account, key.String()); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("plate %s is not registered to %s", key, account)
			}
			return fmt.Errorf("failed to remove plate: %w", err)
		}
		color.New(color.FgYellow, color.Bold).Printf("Removed %s from %s\n", key, account)
		return nil
	})
}

func runPlatesList(cmd *cobra.Command, args []string) error {
	return withStore(func(ctx context.Context, store storage.Store) error {
		var (
			plates []string
			err    error
		)
		if len(args) == 1 {
			plates, err = store.Accounts().AccountPlates(ctx, args[0])
		} else {
			plates, err = store.Accounts().RegisteredPlates(ctx)
		}
		if err != nil {
			return fmt.Errorf("failed to list plates: %w", err)
		}

		if len(plates) == 0 {
			color.New(color.FgYellow).Println("No plates registered")
			return nil
		}
		for _, p := range plates {
			fmt.Println(p)
		}
		return nil
	})
}
