// Package run defines the descriptor for a single repetition run and the
// checkpoint record format derived from it.
//
// A Run is immutable once built. Its identity for checkpointing purposes is
// the idempotent key: the attempt index, the command, and the idempotent
// arguments. The UID and the volatile arguments (run tag, log paths) change
// on every expansion and are deliberately excluded from the key, so a run
// completed under one tag is still recognized as completed under another.
package run

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Sentinel terminates every complete checkpoint record. A line that does
// not end with it was truncated by an unclean shutdown and is dropped at
// load time.
const Sentinel = "END"

const idempotentMarker = "IDEMPOTENT:"

// Run describes one invocation of the external command: what to execute,
// where, with which arguments, and where its output goes.
type Run struct {
	// UID uniquely identifies this run instance. It is generated fresh on
	// every expansion and never reused, even for the same logical run.
	UID uuid.UUID

	// Attempt is the repetition index in [0, repetitions) for the
	// (dataset, configuration) pair this run belongs to.
	Attempt int

	Cmd     string
	Workdir string

	// VolatileArgs vary per invocation of the whole repeater (run tag,
	// per-run log path) and do not affect logical identity.
	VolatileArgs []string

	// IdempotentArgs define logical identity: the dataset selector and the
	// configured algorithm arguments.
	IdempotentArgs []string

	// Logfile is passed to the child via the volatile arguments;
	// StdoutLogfile receives the child's combined stdout and stderr.
	Logfile       string
	StdoutLogfile string
}

// Args returns the full argument list for the command, volatile arguments
// first.
func (r Run) Args() []string {
	args := make([]string, 0, len(r.VolatileArgs)+len(r.IdempotentArgs))
	args = append(args, r.VolatileArgs...)
	args = append(args, r.IdempotentArgs...)
	return args
}

// Record renders the checkpoint line for a run. The volatile section is
// kept for postmortem readability; only the section from the idempotent
// marker onward participates in identity.
func Record(r Run) string {
	return fmt.Sprintf("VOLATILE: %s\t%s %d\t%s\t%s\t%s",
		strings.Join(r.VolatileArgs, " "),
		idempotentMarker,
		r.Attempt,
		r.Cmd,
		strings.Join(r.IdempotentArgs, " "),
		Sentinel,
	)
}

// Key returns the idempotent key of the run: the identity-relevant
// projection of its checkpoint record.
func (r Run) Key() string {
	key, _ := KeyOf(Record(r))
	return key
}

// KeyOf extracts the idempotent key from a raw checkpoint record line: the
// substring from the idempotent marker through the end of the line. The
// second return value reports whether the marker was present.
func KeyOf(record string) (string, bool) {
	i := strings.Index(record, idempotentMarker)
	if i < 0 {
		return "", false
	}
	return record[i:], true
}
