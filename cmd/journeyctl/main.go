package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/you/recurse-review/internal/config"
	"github.com/you/recurse-review/internal/store"
	"github.com/you/recurse-review/internal/version"
)

type globalOptions struct {
	envFile string
	sqlite  string
}

func main() {
	opts := &globalOptions{}
	rootCmd := &cobra.Command{
		Use:           "journeyctl",
		Short:         "Operate on stored Recurse Center journeys",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version.Version, version.Commit, version.BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "Path to a dotenv file loaded before reading the environment")
	rootCmd.PersistentFlags().StringVar(&opts.sqlite, "sqlite", "", "Path to SQLite database file (overrides RR_SQLITE_PATH)")

	rootCmd.AddCommand(generateCmd(opts))
	rootCmd.AddCommand(listCmd(opts))
	rootCmd.AddCommand(showCmd(opts))
	rootCmd.AddCommand(repairCmd(opts))
	rootCmd.AddCommand(setJourneyCmd(opts))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, color.New(color.FgRed).Sprint("error: ")+err.Error())
		os.Exit(1)
	}
}

func (o *globalOptions) load() (config.Config, error) {
	if err := config.LoadDotEnv(o.envFile); err != nil {
		return config.Config{}, fmt.Errorf("env file %s: %w", o.envFile, err)
	}
	cfg := config.Load()
	if o.sqlite != "" {
		cfg.SQLite.Path = o.sqlite
	}
	return cfg, nil
}

func (o *globalOptions) openStore() (*store.SQLiteStore, config.Config, error) {
	cfg, err := o.load()
	if err != nil {
		return nil, cfg, err
	}
	st, err := store.OpenSQLite(cfg.SQLite.Path, store.Options{Tuning: cfg.SQLite.Tuning})
	if err != nil {
		return nil, cfg, err
	}
	return st, cfg, nil
}
