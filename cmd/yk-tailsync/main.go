package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yuriy-kovalchuk/yk-tailsync/internal/config"
	"github.com/yuriy-kovalchuk/yk-tailsync/internal/dns"
	_ "github.com/yuriy-kovalchuk/yk-tailsync/internal/dns/backends"
	"github.com/yuriy-kovalchuk/yk-tailsync/internal/job"
	"github.com/yuriy-kovalchuk/yk-tailsync/internal/logging"
	"github.com/yuriy-kovalchuk/yk-tailsync/internal/reconcile"
	"github.com/yuriy-kovalchuk/yk-tailsync/internal/tailscale"
)

// Version is set at build time.
var Version = "dev"

// errHadFailures marks a run that finished but could not reconcile every
// record. It maps to exit code 2 so schedulers can tell a degraded run from
// a setup failure.
var errHadFailures = errors.New("completed with failures")

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps a run's outcome to the process exit status: 0 for a clean
// reconciliation, 2 when the run finished but left failures behind, 1 for
// everything fatal.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errHadFailures):
		return 2
	default:
		return 1
	}
}

// summaryErr converts a finished run's summary into the command outcome.
func summaryErr(summary reconcile.Summary) error {
	if summary.Clean() {
		return nil
	}
	return fmt.Errorf("%w: %v", errHadFailures, summary.Err())
}

func rootCmd() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:           "yk-tailsync",
		Short:         "Publish Tailscale device hostnames as Pi-hole DNS records",
		Version:       Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, debug)
		},
	}
	cmd.Flags().BoolVar(&debug, "debug", false, "enable verbose logging")
	return cmd
}

func run(ctx context.Context, debug bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("unable to load sync config: %w", err)
	}

	log, flush, err := logging.New(debug, cfg.LogFile)
	if err != nil {
		return err
	}
	defer flush()

	log.Info("starting yk-tailsync", "version", Version, "backend", cfg.Backend, "suffix", cfg.Suffix)

	backend, err := dns.New(cfg.Backend, log.WithName("dns-"+cfg.Backend), cfg.Settings)
	if err != nil {
		return fmt.Errorf("unable to create DNS backend: %w", err)
	}
	defer func() {
		// Logout runs even when ctx was canceled by a signal.
		if err := backend.Close(context.Background()); err != nil {
			log.Error(err, "closing DNS backend")
		}
	}()

	j := &job.Job{
		Log:     log,
		Source:  &tailscale.Source{Log: log.WithName("tailscale"), Runner: tailscale.ExecRunner{}},
		Backend: backend,
		Suffix:  cfg.Suffix,
	}

	summary, err := j.Run(ctx)
	if err != nil {
		return err
	}
	return summaryErr(summary)
}
