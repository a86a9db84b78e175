package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/autotm/repeater/buildinfo"
	"github.com/autotm/repeater/checkpoint"
	"github.com/autotm/repeater/config"
	"github.com/autotm/repeater/cron"
	"github.com/autotm/repeater/logging"
	"github.com/autotm/repeater/metrics"
	"github.com/autotm/repeater/repeater"
)

type Args struct {
	ConfigPath       string
	CheckpointDir    string
	CheckpointPrefix string
	RunsLogDir       string
	Parallel         int
	Tag              string
	LogFile          string
	Schedule         string
	ShowVersion      bool
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	args := parseArgs()

	if args.ShowVersion {
		showVersion()
		return nil
	}

	if args.ConfigPath == "" {
		return fmt.Errorf("config flag (-c or --config) is required")
	}

	cfg, err := config.LoadConfig(args.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	loggerConfig := logging.Config(cfg.Logging)
	if args.LogFile != "" {
		loggerConfig.Output = args.LogFile
	}
	logger, err := logging.New(loggerConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	props := buildinfo.Get()
	logger.Info("repeater started",
		"version", props.Version,
		"build_time", props.BuildTime,
		"git_commit", props.GitCommit,
		"config_path", args.ConfigPath,
		"args", os.Args,
	)

	registry, err := buildRegistry(cfg.Monitoring)
	if err != nil {
		return err
	}

	// One sweep against a fresh checkpoint file, seeded from the most
	// recent previous one.
	invoke := func(ctx context.Context) (repeater.Outcome, error) {
		store := checkpoint.Store(checkpoint.NopStore{})
		if args.CheckpointDir != "" {
			previous, current, err := checkpoint.Discover(
				args.CheckpointDir, args.CheckpointPrefix, time.Now())
			if err != nil {
				return repeater.Outcome{}, err
			}
			fileStore, err := checkpoint.Open(current, previous, logger)
			if err != nil {
				return repeater.Outcome{}, err
			}
			store = fileStore
		}

		rep := repeater.New(&cfg, args.RunsLogDir, logger,
			repeater.WithStore(store),
			repeater.WithRunTag(args.Tag),
			repeater.WithParallel(args.Parallel),
			repeater.WithMetricsRegistry(registry))

		return rep.Run(ctx)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	if args.Schedule != "" {
		trigger, err := cron.NewTrigger(args.Schedule, cron.RunnableFunc(func() error {
			out, err := invoke(ctx)
			if err != nil {
				return err
			}
			flushMetrics(registry, logger)
			if out.Failed > 0 {
				return fmt.Errorf("%d of %d runs failed", out.Failed, out.Scheduled)
			}
			return nil
		}), logger)
		if err != nil {
			return err
		}

		logger.Info("running on a schedule", "schedule", args.Schedule, "next_run", trigger.NextRun())
		trigger.Start(ctx)
		<-ctx.Done()
		return nil
	}

	out, err := invoke(ctx)
	if err != nil {
		return err
	}
	flushMetrics(registry, logger)

	logger.Info("repeater has finished",
		"scheduled", out.Scheduled,
		"skipped", out.Skipped,
		"completed", out.Completed,
		"failed", out.Failed,
	)

	if out.Failed > 0 {
		return fmt.Errorf("%d of %d runs failed", out.Failed, out.Scheduled)
	}
	return nil
}

// flushMetrics pushes the invocation's buffered metrics. A push failure
// is logged and never affects the exit status.
func flushMetrics(registry metrics.Registry, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), metrics.DefaultTimeout)
	defer cancel()
	if err := registry.Flush(ctx); err != nil {
		logger.Error("failed to push metrics", "error", err)
	}
}

// buildRegistry creates the metrics registry: push-based when a
// VictoriaMetrics URL is configured, no-op otherwise.
func buildRegistry(cfg config.MonitoringConfig) (metrics.Registry, error) {
	if cfg.VictoriaMetricsURL == "" {
		return metrics.NewNopRegistry(), nil
	}

	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("failed to get hostname: %w", err)
	}

	return metrics.NewPushRegistry(metrics.PushConfig{
		URL:      cfg.VictoriaMetricsURL,
		Prefix:   cfg.MetricsPrefix,
		Job:      cfg.JobName,
		Instance: hostname,
	}), nil
}

func parseArgs() Args {
	var args Args

	flag.StringVar(&args.ConfigPath, "config", "", "Path to the experiment config file")
	flag.StringVar(&args.ConfigPath, "c", "", "Path to the experiment config file (shorthand)")
	flag.StringVar(&args.CheckpointDir, "checkpoint-dir", "", "Directory where checkpoint files are stored; empty disables checkpointing")
	flag.StringVar(&args.CheckpointPrefix, "checkpoint-prefix", "repeater-checkpoint", "Prefix of checkpoint file names")
	flag.StringVar(&args.RunsLogDir, "runs-log-dir", "/var/log", "Base directory for per-run log files")
	flag.IntVar(&args.Parallel, "parallel", 0, "Max number of parallel processes; 0 means unbounded")
	flag.StringVar(&args.Tag, "tag", "", "Tag for the current set of experiments; generated when empty")
	flag.StringVar(&args.LogFile, "log-file", "", "File for the repeater's own log; overrides the config's logging output")
	flag.StringVar(&args.Schedule, "schedule", "", "Cron expression to re-run the sweep on a schedule")
	flag.BoolVar(&args.ShowVersion, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nRepeater - checkpointed repetition runner for tuning experiments\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s --config experiments.yaml --checkpoint-dir /var/lib/repeater --parallel 4\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -c experiments.yaml --tag baseline --runs-log-dir /var/log/experiments\n", os.Args[0])
	}

	flag.Parse()
	return args
}

func showVersion() {
	props := buildinfo.Get()
	fmt.Printf("repeater %s\n", props.Version)
	fmt.Printf("Built: %s\n", props.BuildTime)
	fmt.Printf("Commit: %s\n", props.GitCommit)
}
