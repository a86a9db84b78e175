// Package cron schedules repeated repeater invocations.
//
// Because completed runs are checkpointed, re-invoking the sweep on a
// schedule is the retry mechanism for failed runs: every tick starts a
// fresh invocation that skips what already succeeded and re-attempts the
// rest.
//
// Example usage:
//
//	trigger, err := cron.NewTrigger("0 2 * * *", runnable, logger)
//	if err != nil {
//	    return err
//	}
//	trigger.Start(ctx) // Returns immediately, runs in background
//	<-ctx.Done()       // Wait for shutdown signal
package cron

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidSpec is returned when the cron specification cannot be parsed.
var ErrInvalidSpec = errors.New("invalid cron spec")

// Runnable is implemented by anything that can be triggered by the
// scheduler.
type Runnable interface {
	Run() error
}

// RunnableFunc adapts a plain function to the Runnable interface.
type RunnableFunc func() error

func (f RunnableFunc) Run() error { return f() }

// Trigger executes a Runnable according to a cron schedule.
type Trigger struct {
	spec     string
	schedule cron.Schedule
	runnable Runnable
	logger   *slog.Logger
}

// NewTrigger creates a Trigger from a standard 5-field cron specification
// (minute, hour, day, month, weekday). Returns ErrInvalidSpec if the
// specification cannot be parsed.
func NewTrigger(spec string, runnable Runnable, logger *slog.Logger) (*Trigger, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, errors.Join(ErrInvalidSpec, err)
	}

	return &Trigger{
		spec:     spec,
		schedule: schedule,
		runnable: runnable,
		logger:   logger,
	}, nil
}

// Start launches a goroutine that triggers invocations according to the
// schedule. Returns immediately. The goroutine exits when ctx is
// cancelled.
func (t *Trigger) Start(ctx context.Context) {
	go t.loop(ctx)
}

// NextRun returns the next scheduled run time from now.
func (t *Trigger) NextRun() time.Time {
	return t.schedule.Next(time.Now())
}

// loop is the main scheduling loop that runs in a goroutine.
func (t *Trigger) loop(ctx context.Context) {
	for {
		next := t.schedule.Next(time.Now())
		wait := time.Until(next)

		t.logger.Debug("waiting for next scheduled invocation",
			"schedule", t.spec, "next_run", next, "wait", wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			t.logger.Info("cron trigger stopped", "schedule", t.spec)
			return
		case <-timer.C:
		}

		t.logger.Info("triggering scheduled invocation", "schedule", t.spec)
		if err := t.runnable.Run(); err != nil {
			t.logger.Error("scheduled invocation failed", "schedule", t.spec, "error", err)
		}
	}
}
