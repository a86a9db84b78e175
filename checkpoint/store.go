// Package checkpoint persists the set of completed runs across invocations.
//
// A checkpoint file is a plain text file of one record per line, appended
// to as runs succeed. A fresh file is created per invocation, seeded with
// the content of the most recent previous file, so history accumulates
// while each invocation keeps its own file. Only sentinel-terminated lines
// are trusted at load time; a trailing line cut short by a crash is
// silently dropped.
//
// The file has a single writer: the control flow of one invocation appends
// one record at a time after observing each run's success. Two concurrent
// invocations sharing a checkpoint path are unsupported.
package checkpoint

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/autotm/repeater/run"
)

// timestampFormat is embedded in checkpoint file names.
const timestampFormat = "2006-01-02T15-04-05"

// Store records completed runs and answers whether a run has already
// completed in a prior invocation.
type Store interface {
	// Contains reports whether the run's idempotent key was present in the
	// checkpoint when it was loaded. The loaded set is never mutated
	// afterwards; appends go to the file only.
	Contains(r run.Run) bool

	// Append durably records the run as completed. Called once per
	// successful run, from a single goroutine.
	Append(r run.Run) error
}

// Discover locates the most recent checkpoint file under dir matching
// <prefix>_<timestamp>.txt and returns its path along with a fresh path
// for the current invocation. previous is empty when no prior checkpoint
// exists. Files whose embedded timestamp does not parse are ignored.
func Discover(dir, prefix string, now time.Time) (previous, current string, err error) {
	pattern := filepath.Join(dir, prefix+"_*.txt")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", "", fmt.Errorf("globbing %s: %w", pattern, err)
	}

	var latest time.Time
	for _, m := range matches {
		ts, ok := parseTimestamp(m)
		if !ok {
			continue
		}
		if previous == "" || ts.After(latest) {
			previous, latest = m, ts
		}
	}

	current = filepath.Join(dir, fmt.Sprintf("%s_%s.txt", prefix, now.Format(timestampFormat)))
	return previous, current, nil
}

// parseTimestamp extracts the timestamp embedded after the last underscore
// of a checkpoint file name.
func parseTimestamp(path string) (time.Time, bool) {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	i := strings.LastIndex(name, "_")
	if i < 0 {
		return time.Time{}, false
	}
	ts, err := time.Parse(timestampFormat, name[i+1:])
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// FileStore is the file-backed Store implementation.
type FileStore struct {
	path   string
	keys   map[string]struct{}
	logger *slog.Logger
}

// Open prepares the checkpoint file at path and loads its key set.
//
// When previous names a different file, its content is copied into path
// first so the new invocation inherits history. A configured but missing
// previous file is a warning, not an error. A missing current file yields
// an empty set.
func Open(path, previous string, logger *slog.Logger) (*FileStore, error) {
	logger.Info("loading checkpoint", "path", path, "previous", previous)

	if previous != "" && previous != path {
		if _, err := os.Stat(previous); errors.Is(err, os.ErrNotExist) {
			logger.Warn("previous checkpoint file not found, continuing without its content",
				"previous", previous)
		} else if err != nil {
			return nil, fmt.Errorf("checking previous checkpoint %s: %w", previous, err)
		} else {
			logger.Info("seeding checkpoint from previous invocation",
				"previous", previous, "path", path)
			if err := copyFile(previous, path); err != nil {
				return nil, fmt.Errorf("copying previous checkpoint: %w", err)
			}
		}
	}

	keys, err := loadKeys(path)
	if err != nil {
		return nil, err
	}

	logger.Info("checkpoint loaded", "path", path, "records", len(keys))
	return &FileStore{path: path, keys: keys, logger: logger}, nil
}

// Contains reports membership in the key set loaded at Open time.
func (s *FileStore) Contains(r run.Run) bool {
	_, ok := s.keys[r.Key()]
	return ok
}

// Append writes one record line for the run. Duplicates are harmless: the
// set is rebuilt from the file on the next invocation and a repeated key
// is just redundant.
func (s *FileStore) Append(r run.Run) error {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("opening checkpoint %s: %w", s.path, err)
	}
	defer f.Close()

	if _, err := f.WriteString(run.Record(r) + "\n"); err != nil {
		return fmt.Errorf("appending checkpoint record: %w", err)
	}
	return nil
}

// Size returns the number of keys loaded at Open time.
func (s *FileStore) Size() int {
	return len(s.keys)
}

// loadKeys parses the checkpoint file into a key set, skipping lines that
// lack the terminal sentinel.
func loadKeys(path string) (map[string]struct{}, error) {
	keys := make(map[string]struct{})

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return keys, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening checkpoint %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasSuffix(line, run.Sentinel) {
			continue
		}
		if key, ok := run.KeyOf(line); ok {
			keys[key] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading checkpoint %s: %w", path, err)
	}
	return keys, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// NopStore is the Store used when checkpointing is disabled: nothing is
// remembered and nothing is persisted.
type NopStore struct{}

func (NopStore) Contains(run.Run) bool { return false }
func (NopStore) Append(run.Run) error  { return nil }
