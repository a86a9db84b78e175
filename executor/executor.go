// Package executor launches a single run as an external process and
// classifies its outcome by exit code.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	"github.com/google/uuid"

	"github.com/autotm/repeater/run"
)

// RunFailure reports a process that exited non-zero. The run is not
// checkpointed and remains eligible for the next invocation.
type RunFailure struct {
	UID      uuid.UUID
	Attempt  int
	Cmd      string
	Args     []string
	ExitCode int
}

func (e *RunFailure) Error() string {
	return fmt.Sprintf("return code %d != 0 for run %s (repetition %d) with cmd %q and args %v",
		e.ExitCode, e.UID, e.Attempt, e.Cmd, e.Args)
}

// Executor runs descriptors as child processes, redirecting their combined
// stdout and stderr into the run's log file.
//
// The executor only classifies the outcome; recording successes to the
// checkpoint is the scheduler's job, so that appends stay on its single
// control goroutine.
type Executor struct {
	logger *slog.Logger
}

// New creates an Executor.
func New(logger *slog.Logger) *Executor {
	return &Executor{logger: logger}
}

// Execute launches the run's command in its workdir and waits for it to
// exit. Exit code zero is success; any other code returns a *RunFailure.
// The log file is produced regardless of outcome.
//
// Cancelling ctx kills the child process.
func (e *Executor) Execute(ctx context.Context, r run.Run) error {
	e.logger.Info("starting process",
		"uid", r.UID, "cmd", r.Cmd, "args", r.Args(), "workdir", r.Workdir)

	f, err := os.Create(r.StdoutLogfile)
	if err != nil {
		return fmt.Errorf("creating run log file %s: %w", r.StdoutLogfile, err)
	}

	cmd := exec.CommandContext(ctx, r.Cmd, r.Args()...)
	cmd.Dir = r.Workdir
	cmd.Stdout = f
	cmd.Stderr = f

	runErr := cmd.Run()
	if closeErr := f.Close(); closeErr != nil && runErr == nil {
		return fmt.Errorf("closing run log file %s: %w", r.StdoutLogfile, closeErr)
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			failure := &RunFailure{
				UID:      r.UID,
				Attempt:  r.Attempt,
				Cmd:      r.Cmd,
				Args:     r.Args(),
				ExitCode: exitErr.ExitCode(),
			}
			e.logger.Error("run failed", "uid", r.UID, "exit_code", failure.ExitCode)
			return failure
		}
		// The process never started (bad command, missing workdir, ...).
		return fmt.Errorf("launching %q: %w", r.Cmd, runErr)
	}

	e.logger.Info("run succeeded", "uid", r.UID, "cmd", r.Cmd, "args", r.Args())
	return nil
}
