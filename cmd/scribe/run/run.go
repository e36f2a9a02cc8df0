package run

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/flarebyte/scribe/internal/buildinfo"
	"github.com/flarebyte/scribe/internal/config"
	"github.com/flarebyte/scribe/internal/logging"
	"github.com/flarebyte/scribe/internal/pipeline"
	platformotel "github.com/flarebyte/scribe/internal/platform/otel"
	"github.com/flarebyte/scribe/internal/record"
)

var (
	cfgPath     string
	flagWorkers int
	flagLimit   int
	flagDryRun  bool
)

// Cmd represents the `scribe run` command.
var Cmd = &cobra.Command{
	Use:           "run",
	Short:         "Process the records of a job, resuming where the output stops",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfgPath == "" {
			return errors.New("missing required flag: --config")
		}
		opts := options{ConfigPath: cfgPath, DryRun: flagDryRun}
		if cmd.Flags().Changed("workers") {
			opts.Workers = &flagWorkers
		}
		if cmd.Flags().Changed("limit") {
			opts.Limit = &flagLimit
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return execute(ctx, opts, cmd.OutOrStdout(), cmd.ErrOrStderr(), stderrIsTerminal())
	},
}

func init() {
	Cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "Path to job file (.cue)")
	Cmd.Flags().IntVar(&flagWorkers, "workers", 1, "Records processed concurrently (commits stay in input order)")
	Cmd.Flags().IntVar(&flagLimit, "limit", 0, "Stop after this many input records (0 means all)")
	Cmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "Print rendered prompts as records on stdout without calling the service")
}

// options are the command-line overrides of a job file.
type options struct {
	ConfigPath string
	Workers    *int
	Limit      *int
	DryRun     bool
}

func stderrIsTerminal() bool {
	fd := os.Stderr.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// execute runs one job. The summary goes to stdout as a single JSON line, or
// to stderr in dry-run mode where stdout carries the records.
func execute(ctx context.Context, opts options, stdout, stderr io.Writer, tty bool) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	if opts.Workers != nil {
		if *opts.Workers < 1 {
			return fmt.Errorf("invalid --workers: %d (must be >= 1)", *opts.Workers)
		}
		cfg.Workers = *opts.Workers
	}
	if opts.Limit != nil {
		if *opts.Limit < 0 {
			return fmt.Errorf("invalid --limit: %d (must be >= 0)", *opts.Limit)
		}
		cfg.Input.Limit = *opts.Limit
	}
	env, err := config.ParseEnv()
	if err != nil {
		return err
	}
	log := logging.New(stderr, env.LogV)

	runID := uuid.NewString()
	shutdown, err := platformotel.Setup(ctx, platformotel.Options{
		Endpoint: env.OTelEndpoint,
		Enabled:  env.OTelEnabled,
		Version:  buildinfo.Release(),
		RunID:    runID,
		JobPath:  cfg.Path,
		Provider: cfg.Service.Provider,
	})
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			log.Error(err, "tracing shutdown")
		}
	}()

	job, err := buildJob(cfg, env, opts.DryRun, stdout, log)
	if err != nil {
		return err
	}
	job.RunID = runID
	progress := newProgressReporter(cfg.UI, stderr, tty && !opts.DryRun)
	job.Observer = progress

	sum, runErr := pipeline.Run(ctx, job)
	progress.finish(sum)

	summaryOut := stdout
	if opts.DryRun {
		summaryOut = stderr
	}
	if err := writeSummary(summaryOut, sum); err != nil && runErr == nil {
		runErr = err
	}
	return evaluateRunExit(cfg.Errors.Mode, sum, runErr)
}

func writeSummary(w io.Writer, sum pipeline.Summary) error {
	b, err := record.Encode(sum)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
