// Package repeater wires configuration expansion, checkpointing, and
// scheduling into one end-to-end invocation.
package repeater

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/autotm/repeater/checkpoint"
	"github.com/autotm/repeater/config"
	"github.com/autotm/repeater/executor"
	"github.com/autotm/repeater/metrics"
	"github.com/autotm/repeater/run"
	"github.com/autotm/repeater/scheduler"
)

// logDirFormat names the per-invocation directory for run logs.
const logDirFormat = "run-06-01-02-15-04"

// Outcome summarizes one invocation.
type Outcome struct {
	// Scheduled is the number of runs that entered the backlog.
	Scheduled int
	// Skipped is the number of candidate runs already present in the
	// checkpoint.
	Skipped int
	// Completed and Failed are the terminal counts of the scheduled runs.
	Completed int
	Failed    int
}

// Repeater drives one sweep of datasets × configurations × repetitions.
type Repeater struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    checkpoint.Store
	registry metrics.Registry
	logDir   string
	runTag   string
	parallel int
}

// Option configures a Repeater.
type Option func(*Repeater)

// WithStore sets the checkpoint store. Defaults to a no-op store, i.e. a
// one-shot, non-resumable invocation.
func WithStore(store checkpoint.Store) Option {
	return func(r *Repeater) {
		r.store = store
	}
}

// WithRunTag sets the tag injected into every run's volatile arguments.
// Defaults to a freshly generated identifier.
func WithRunTag(tag string) Option {
	return func(r *Repeater) {
		if tag != "" {
			r.runTag = tag
		}
	}
}

// WithParallel bounds the number of concurrently running processes.
// Zero or negative means unbounded.
func WithParallel(n int) Option {
	return func(r *Repeater) {
		r.parallel = n
	}
}

// WithMetricsRegistry sets the registry for invocation metrics.
func WithMetricsRegistry(reg metrics.Registry) Option {
	return func(r *Repeater) {
		r.registry = reg
	}
}

// New creates a Repeater. Per-run log files are placed in a timestamped
// subdirectory of runsLogDir, created when Run is called.
func New(cfg *config.Config, runsLogDir string, logger *slog.Logger, opts ...Option) *Repeater {
	r := &Repeater{
		cfg:      cfg,
		logger:   logger,
		store:    checkpoint.NopStore{},
		registry: metrics.NewNopRegistry(),
		logDir:   filepath.Join(runsLogDir, time.Now().Format(logDirFormat)),
		runTag:   uuid.NewString(),
	}
	for _, opt := range opts {
		opt(r)
	}

	logger.Info("running with run tag", "tag", r.runTag)
	return r
}

// Run performs one full invocation: prepare the log directory, expand the
// configuration against the checkpoint, schedule everything, and report.
//
// Run failures do not produce an error; they are reported through the
// Outcome. An error means the invocation could not be set up at all.
func (r *Repeater) Run(ctx context.Context) (Outcome, error) {
	start := time.Now()

	if err := os.MkdirAll(r.logDir, 0755); err != nil {
		return Outcome{}, fmt.Errorf("preparing run log directory %s: %w", r.logDir, err)
	}

	backlog, skipped, err := r.expand()
	if err != nil {
		return Outcome{}, err
	}
	r.logger.Info("prepared the list of runs",
		"scheduled", len(backlog), "skipped", skipped)

	sched := scheduler.New(executor.New(r.logger), r.logger,
		scheduler.WithParallel(r.parallel),
		scheduler.WithStore(r.store),
		scheduler.WithMetricsRegistry(r.registry))

	res := sched.Run(ctx, backlog)

	out := Outcome{
		Scheduled: len(backlog),
		Skipped:   skipped,
		Completed: res.Completed,
		Failed:    res.Failed,
	}
	r.recordMetrics(out, time.Since(start))
	return out, nil
}

// expand produces the backlog: one run per (dataset, configuration,
// attempt) triple, minus the triples already present in the checkpoint.
func (r *Repeater) expand() ([]run.Run, int, error) {
	var backlog []run.Run
	skipped := 0

	for _, dataset := range r.cfg.Datasets {
		for _, c := range r.cfg.Configurations {
			workdir, err := filepath.Abs(c.Workdir)
			if err != nil {
				return nil, 0, fmt.Errorf("resolving workdir %q: %w", c.Workdir, err)
			}

			for attempt := 0; attempt < c.Repetitions; attempt++ {
				uid := uuid.New()
				logFile := filepath.Join(r.logDir, fmt.Sprintf("run-log-%s.log", uid))
				stdoutLogFile := filepath.Join(r.logDir, fmt.Sprintf("stdout-stderr-run-log-%s.log", uid))

				rr := run.Run{
					UID:            uid,
					Attempt:        attempt,
					Cmd:            c.Cmd,
					Workdir:        workdir,
					VolatileArgs:   []string{"--tag", r.runTag, "--log-file", logFile},
					IdempotentArgs: append([]string{"--dataset", dataset}, strings.Fields(c.Args)...),
					Logfile:        logFile,
					StdoutLogfile:  stdoutLogFile,
				}

				if r.store.Contains(rr) {
					r.logger.Info("found run in checkpoint, skipping", "key", rr.Key())
					skipped++
					continue
				}
				backlog = append(backlog, rr)
			}
		}
	}

	return backlog, skipped, nil
}

func (r *Repeater) recordMetrics(out Outcome, elapsed time.Duration) {
	// Creation through the registry cannot fail.
	skippedTotal, _ := r.registry.NewCounter(prometheus.CounterOpts{
		Name: "runs_skipped_total",
		Help: "Candidate runs skipped because they were already checkpointed.",
	})
	duration, _ := r.registry.NewGauge(prometheus.GaugeOpts{
		Name: "invocation_duration_seconds",
		Help: "Wall-clock duration of the whole invocation.",
	})

	skippedTotal.Add(float64(out.Skipped))
	duration.Set(elapsed.Seconds())
}
