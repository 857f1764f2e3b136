package main

import (
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/goodtune/kpark/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var validateDump bool

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the kpark configuration file for syntax and semantic errors.`,
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateDump, "dump", false, "Print the effective configuration, highlighting non-default values")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		color.New(color.FgRed, color.Bold).Fprintf(os.Stderr, "✗ %s: %v\n", configPath, err)
		return err
	}

	unknownKeys, err := findUnknownKeys(configPath)
	if err != nil {
		color.New(color.FgYellow).Fprintf(os.Stderr, "! unknown key check skipped: %v\n", err)
	}

	color.New(color.FgGreen, color.Bold).Fprintf(os.Stdout, "✓ %s is valid\n", configPath)
	printUnknownKeys(unknownKeys)

	if validateDump {
		rule := strings.Repeat("=", 80)
		fmt.Fprintf(os.Stdout, "\n%s\nEffective configuration (yellow = changed from default)\n%s\n", rule, rule)
		dumpConfig(cfg, config.Default(), unknownKeys)
	}

	return nil
}

func printUnknownKeys(keys []string) {
	if len(keys) == 0 {
		return
	}

	red := color.New(color.FgRed, color.Bold)
	red.Fprintf(os.Stdout, "\n%d unrecognised key(s), ignored:\n", len(keys))
	for _, key := range keys {
		red.Fprintf(os.Stdout, "  %s\n", key)
	}
}

// findUnknownKeys reports keys in the file that kpark does not read.
func findUnknownKeys(path string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	known := make(map[string]struct{})
	for _, key := range config.Keys() {
		known[key] = struct{}{}
	}

	var unknown []string
	for _, key := range v.AllKeys() {
		if _, ok := known[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)
	return unknown, nil
}

// dumpConfig dumps configuration with color highlighting for non-default values
func dumpConfig(cfg, defaultCfg *config.Config, unknownKeys []string) {
	yellow := color.New(color.FgYellow, color.Bold)
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan, color.Bold)

	_, _ = cyan.Println("\n[server]")
	dumpField("  bind_address", cfg.Server.BindAddress, defaultCfg.Server.BindAddress, yellow, green)
	dumpField("  http_port", cfg.Server.HTTPPort, defaultCfg.Server.HTTPPort, yellow, green)
	dumpField("  metrics_port", cfg.Server.MetricsPort, defaultCfg.Server.MetricsPort, yellow, green)

	_, _ = cyan.Println("\n[storage]")
	dumpField("  type", cfg.Storage.Type, defaultCfg.Storage.Type, yellow, green)
	_, _ = cyan.Println("  [storage.redis]")
	dumpField("    host", cfg.Storage.Redis.Host, defaultCfg.Storage.Redis.Host, yellow, green)
	dumpField("    port", cfg.Storage.Redis.Port, defaultCfg.Storage.Redis.Port, yellow, green)
	dumpField("    password", redactPassword(cfg.Storage.Redis.Password), redactPassword(defaultCfg.Storage.Redis.Password), yellow, green)
	dumpField("    db", cfg.Storage.Redis.DB, defaultCfg.Storage.Redis.DB, yellow, green)
	dumpField("    pool_size", cfg.Storage.Redis.PoolSize, defaultCfg.Storage.Redis.PoolSize, yellow, green)
	dumpField("    min_idle_conns", cfg.Storage.Redis.MinIdleConns, defaultCfg.Storage.Redis.MinIdleConns, yellow, green)
	dumpField("    dial_timeout", cfg.Storage.Redis.DialTimeout, defaultCfg.Storage.Redis.DialTimeout, yellow, green)
	dumpField("    read_timeout", cfg.Storage.Redis.ReadTimeout, defaultCfg.Storage.Redis.ReadTimeout, yellow, green)
	dumpField("    write_timeout", cfg.Storage.Redis.WriteTimeout, defaultCfg.Storage.Redis.WriteTimeout, yellow, green)
	_, _ = cyan.Println("  [storage.postgres]")
	dumpField("    dsn", redactPassword(cfg.Storage.Postgres.DSN), redactPassword(defaultCfg.Storage.Postgres.DSN), yellow, green)
	dumpField("    max_open_conns", cfg.Storage.Postgres.MaxOpenConns, defaultCfg.Storage.Postgres.MaxOpenConns, yellow, green)

	_, _ = cyan.Println("\n[logging]")
	dumpField("  level", cfg.Logging.Level, defaultCfg.Logging.Level, yellow, green)
	dumpField("  format", cfg.Logging.Format, defaultCfg.Logging.Format, yellow, green)

	_, _ = cyan.Println("\n[billing]")
	dumpField("  grace_period_minutes", cfg.Billing.GracePeriodMinutes, defaultCfg.Billing.GracePeriodMinutes, yellow, green)
	dumpField("  unit_rate", cfg.Billing.UnitRate, defaultCfg.Billing.UnitRate, yellow, green)
	dumpField("  daily_cap", cfg.Billing.DailyCap, defaultCfg.Billing.DailyCap, yellow, green)

	_, _ = cyan.Println("\n[dedup]")
	dumpField("  window", cfg.Dedup.Window, defaultCfg.Dedup.Window, yellow, green)
	dumpField("  max_entries", cfg.Dedup.MaxEntries, defaultCfg.Dedup.MaxEntries, yellow, green)
	dumpField("  sweep_interval", cfg.Dedup.SweepInterval, defaultCfg.Dedup.SweepInterval, yellow, green)

	_, _ = cyan.Println("\n[reconcile]")
	dumpField("  store_timeout", cfg.Reconcile.StoreTimeout, defaultCfg.Reconcile.StoreTimeout, yellow, green)
	dumpField("  max_attempts", cfg.Reconcile.MaxAttempts, defaultCfg.Reconcile.MaxAttempts, yellow, green)
	dumpField("  retry_initial_interval", cfg.Reconcile.RetryInitialInterval, defaultCfg.Reconcile.RetryInitialInterval, yellow, green)

	_, _ = cyan.Println("\n[ingest]")
	dumpField("  watch_dir", cfg.Ingest.WatchDir, defaultCfg.Ingest.WatchDir, yellow, green)

	_, _ = cyan.Println("\n[admin]")
	dumpField("  jwt_secret", redactPassword(cfg.Admin.JWTSecret), redactPassword(defaultCfg.Admin.JWTSecret), yellow, green)
	dumpField("  cors_origins", cfg.Admin.CORSOrigins, defaultCfg.Admin.CORSOrigins, yellow, green)
	dumpField("  username", cfg.Admin.Username, defaultCfg.Admin.Username, yellow, green)
	dumpField("  password_hash", redactPassword(cfg.Admin.PasswordHash), redactPassword(defaultCfg.Admin.PasswordHash), yellow, green)
	dumpField("  token_ttl", cfg.Admin.TokenTTL, defaultCfg.Admin.TokenTTL, yellow, green)

	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed)
		_, _ = cyan.Println("\n[unrecognised]")
		for _, key := range unknownKeys {
			_, _ = red.Printf("  %s\n", key)
		}
	}

	_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
}

// dumpField prints name = value, highlighted when it differs from the default.
func dumpField(name string, value, defaultValue interface{}, modifiedColor, defaultColor *color.Color) {
	if reflect.DeepEqual(value, defaultValue) {
		_, _ = defaultColor.Printf("%s = %v\n", name, value)
		return
	}
	_, _ = modifiedColor.Printf("%s = %v  (default %v)\n", name, value, defaultValue)
}

func redactPassword(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}
