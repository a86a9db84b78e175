// Package scheduler drives a backlog of runs with a bounded number in
// flight.
//
// The backlog is shuffled before anything launches, so that retries after a
// partial sweep do not always hit the heaviest dataset first. The control
// loop launches up to the configured bound, then repeatedly harvests one
// completion and refills the freed slot from the remaining backlog until
// everything has reached a terminal state. Only the child processes run
// concurrently; backlog and in-flight bookkeeping stay on the control
// goroutine, and so do checkpoint appends: each success is recorded from
// the harvest loop, keeping the checkpoint file single-writer.
//
// A failed run never aborts its siblings: its error is logged and counted,
// and scheduling continues.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/autotm/repeater/checkpoint"
	"github.com/autotm/repeater/metrics"
	"github.com/autotm/repeater/run"
)

// Executor runs a single descriptor to completion.
type Executor interface {
	Execute(ctx context.Context, r run.Run) error
}

// Outcome summarizes one scheduling pass over a backlog.
type Outcome struct {
	// Completed counts runs that exited successfully.
	Completed int
	// Failed counts runs that reached a terminal state with an error.
	Failed int
}

// Scheduler executes backlogs of runs under a concurrency bound.
type Scheduler struct {
	executor Executor
	logger   *slog.Logger
	store    checkpoint.Store
	parallel int // 0 means unbounded

	inFlight  metrics.Gauge
	completed metrics.Counter
	failures  metrics.Counter
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithParallel bounds the number of concurrently running processes.
// Zero or negative means unbounded.
func WithParallel(n int) Option {
	return func(s *Scheduler) {
		s.parallel = n
	}
}

// WithStore sets the checkpoint store successful runs are recorded to.
// Defaults to a no-op store.
func WithStore(store checkpoint.Store) Option {
	return func(s *Scheduler) {
		s.store = store
	}
}

// WithMetricsRegistry sets the registry used for scheduling metrics.
func WithMetricsRegistry(reg metrics.Registry) Option {
	return func(s *Scheduler) {
		s.registerMetrics(reg)
	}
}

// New creates a Scheduler executing runs through executor.
func New(executor Executor, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		executor: executor,
		logger:   logger,
		store:    checkpoint.NopStore{},
	}
	s.registerMetrics(metrics.NewNopRegistry())

	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) registerMetrics(reg metrics.Registry) {
	// The registry implementations cannot fail to create a metric.
	s.inFlight, _ = reg.NewGauge(prometheus.GaugeOpts{
		Name: "runs_in_flight",
		Help: "Number of repetition runs currently executing.",
	})
	s.completed, _ = reg.NewCounter(prometheus.CounterOpts{
		Name: "runs_completed_total",
		Help: "Repetition runs that exited successfully.",
	})
	s.failures, _ = reg.NewCounter(prometheus.CounterOpts{
		Name: "run_failures_total",
		Help: "Repetition runs that exited with a non-zero code.",
	})
}

// Run executes every backlog entry and returns the terminal counts.
//
// Failures are isolated: they surface in the Outcome and the log, never as
// an error. An empty backlog returns immediately. Cancelling ctx stops new
// launches; already-launched runs are still awaited (the executor kills
// their processes on cancellation).
func (s *Scheduler) Run(ctx context.Context, backlog []run.Run) Outcome {
	if len(backlog) == 0 {
		s.logger.Warn("no runs to schedule, nothing to do")
		return Outcome{}
	}

	shuffled := make([]run.Run, len(backlog))
	copy(shuffled, backlog)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	type result struct {
		r   run.Run
		err error
	}
	results := make(chan result)

	launch := func(r run.Run) {
		go func() {
			results <- result{r: r, err: s.executor.Execute(ctx, r)}
		}()
	}

	seed := len(shuffled)
	if s.parallel > 0 && s.parallel < seed {
		seed = s.parallel
	}
	if s.parallel > 0 {
		s.logger.Info("max count of parallel processes restricted",
			"parallel", s.parallel, "backlog", len(shuffled))
	} else {
		s.logger.Info("no restriction on the number of parallel processes, starting all runs",
			"backlog", len(shuffled))
	}

	for _, r := range shuffled[:seed] {
		launch(r)
	}
	launched := seed
	s.inFlight.Set(float64(launched))

	var out Outcome
	for done := 0; done < launched; {
		res := <-results
		done++

		if res.err != nil {
			out.Failed++
			s.failures.Inc()
			s.logger.Error("found error in run completion",
				"uid", res.r.UID, "cmd", res.r.Cmd, "error", res.err)
		} else {
			out.Completed++
			s.completed.Inc()
			// Record the success before refilling, from this goroutine
			// only: the checkpoint file has a single writer. A failed
			// append leaves the run eligible for the next invocation,
			// which is harmless.
			if err := s.store.Append(res.r); err != nil {
				s.logger.Error("failed to record run to checkpoint",
					"uid", res.r.UID, "error", err)
			}
		}

		// Refill the freed slot unless the backlog is drained or the
		// invocation was cancelled.
		if launched < len(shuffled) && ctx.Err() == nil {
			launch(shuffled[launched])
			launched++
		}

		s.inFlight.Set(float64(launched - done))
		s.logger.Info(fmt.Sprintf("%d runs have been calculated, %d are left",
			done, len(shuffled)-done))
	}

	if skipped := len(shuffled) - launched; skipped > 0 {
		s.logger.Warn("invocation cancelled before the backlog drained",
			"not_launched", skipped)
	}

	return out
}
