// Package main implements compi's CLI entry point: flag parsing and
// wiring from Config Resolver through Graph Builder to Scheduler.
//
// Grounded on theRebelliousNerd-codenerd's cmd/nerd/main.go: a single
// cobra rootCmd with PersistentFlags bound in init(), a
// PersistentPreRunE that builds the shared zap logger, and a RunE that
// does the real work — generalized here to compi's single-verb "compi
// [task]" invocation shape instead of nerd's many subcommands, since
// spec.md's CLI is one positional target plus flags, not a verb tree.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"compi/internal/config"
	"compi/internal/diag"
	"compi/internal/graph"
	"compi/internal/logging"
	"compi/internal/scheduler"
	"compi/internal/summary"
)

var (
	configFile   string
	workers      int
	timeoutFlag  time.Duration
	timeoutSet   bool
	outputMode   string
	dryRun       bool
	removeOutput bool
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:           "compi [task]",
	Short:         "compi runs declarative, incrementally-cached build tasks",
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVarP(&configFile, "file", "f", "compi.toml", "Config file path")
	flags.IntVarP(&workers, "workers", "j", 0, "Worker count (default CPU count)")
	flags.DurationVarP(&timeoutFlag, "timeout", "t", 0, "Override default timeout")
	flags.StringVar(&outputMode, "output", "", "Output mode: group | stream")
	flags.BoolVar(&dryRun, "dry-run", false, "Plan only; no execution")
	flags.BoolVar(&removeOutput, "rm", false, "Remove outputs after success")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Verbose logging")
	rootCmd.PreRun = func(cmd *cobra.Command, args []string) {
		timeoutSet = cmd.Flags().Changed("timeout")
	}
}

func run(cmd *cobra.Command, args []string) error {
	log := logging.New(verbose).With("run_id", uuid.NewString())
	defer log.Sync() //nolint:errcheck

	absConfig, err := filepath.Abs(configFile)
	if err != nil {
		return diag.Wrap(diag.ClassConfig, "resolve config path", err)
	}

	cat, err := config.Load(absConfig)
	if err != nil {
		return err
	}

	var targets []string
	if len(args) == 1 {
		targets = []string{args[0]}
	}

	g, err := graph.Build(cat, targets)
	if err != nil {
		return err
	}

	summary.SetColorMode(cat.Global.Color)

	opts := scheduler.Options{
		Workers:   workers,
		Output:    outputMode,
		Remove:    removeOutput,
		DryRun:    dryRun,
		ConfigDir: filepath.Dir(absConfig),
		CacheDir:  cat.Global.CacheDir,
	}
	if opts.Output == "" {
		opts.Output = cat.Global.Output
	}
	if opts.Workers == 0 {
		opts.Workers = cat.Global.Workers
	}
	if timeoutSet {
		opts.DefaultTimeout = &timeoutFlag
	} else {
		opts.DefaultTimeout = cat.Global.DefaultTimeout
	}

	sched, err := scheduler.New(g, opts, log)
	if err != nil {
		return err
	}

	// SIGINT/SIGTERM cancel the scheduler's context rather than killing
	// the process outright, so Run's fail-fast drain of in-flight tasks
	// (spec.md §5 "Cancellation") still applies on an interrupted run.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	results, runErr := sched.Run(ctx)

	if dryRun {
		fmt.Print(summary.Plan(results))
	} else {
		fmt.Print(summary.Report(results))
	}

	return runErr
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "compi: error:", err)
		if class, ok := diag.ClassOf(err); ok {
			os.Exit(class.ExitCode())
		}
		os.Exit(1)
	}
}
