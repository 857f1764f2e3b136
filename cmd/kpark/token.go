package main

import (
	"fmt"
	"os"
	"time"

	"github.com/goodtune/kpark/internal/httpapi"
	"github.com/spf13/cobra"
)

var (
	tokenAdmin bool
	tokenTTL   time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token [flags] SUBJECT",
	Short: "Issue an API bearer token",
	Long: `Sign a bearer token with admin.jwt_secret. A token acts for the account named
by SUBJECT; with --admin it may act for any account and read refused entries.`,
	Example: `  kpark token alice@example.com
  kpark token --admin --ttl 1h operator`,
	Args: cobra.ExactArgs(1),
	RunE: runToken,
}

var hashPasswordCmd = &cobra.Command{
	Use:     "hash-password PASSWORD",
	Short:   "Hash a password for admin.password_hash",
	Example: `  kpark hash-password 'correct horse battery staple'`,
	Args:    cobra.ExactArgs(1),
	RunE:    runHashPassword,
}

func init() {
	tokenCmd.Flags().BoolVar(&tokenAdmin, "admin", false, "Issue an admin token")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "Token lifetime (defaults to admin.token_ttl)")
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(hashPasswordCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := loadCommandConfig()
	if err != nil {
		return err
	}

	ttl := tokenTTL
	if ttl == 0 {
		ttl, err = cfg.Admin.TokenTTLDuration()
		if err != nil {
			return err
		}
	}

	token, err := httpapi.GenerateToken(cfg.Admin.JWTSecret, args[0], tokenAdmin, ttl)
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}

	fmt.Fprintln(os.Stdout, token)
	return nil
}

func runHashPassword(cmd *cobra.Command, args []string) error {
	hash, err := httpapi.HashPassword(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, hash)
	return nil
}
