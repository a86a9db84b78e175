package checkpoint

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autotm/repeater/run"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func testRun(dataset string, attempt int) run.Run {
	return run.Run{
		UID:            uuid.New(),
		Attempt:        attempt,
		Cmd:            "python",
		VolatileArgs:   []string{"--tag", "t"},
		IdempotentArgs: []string{"--dataset", dataset},
	}
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("empty directory has no previous checkpoint", func(t *testing.T) {
		previous, current, err := Discover(dir, "repeater-checkpoint", now)
		require.NoError(t, err)
		assert.Empty(t, previous)
		assert.Equal(t,
			filepath.Join(dir, "repeater-checkpoint_2024-03-01T12-00-00.txt"),
			current)
	})

	t.Run("latest timestamp wins", func(t *testing.T) {
		older := filepath.Join(dir, "repeater-checkpoint_2024-01-01T00-00-00.txt")
		newer := filepath.Join(dir, "repeater-checkpoint_2024-02-01T00-00-00.txt")
		require.NoError(t, os.WriteFile(older, nil, 0644))
		require.NoError(t, os.WriteFile(newer, nil, 0644))

		previous, _, err := Discover(dir, "repeater-checkpoint", now)
		require.NoError(t, err)
		assert.Equal(t, newer, previous)
	})

	t.Run("files with unparsable timestamps are ignored", func(t *testing.T) {
		bogus := filepath.Join(dir, "repeater-checkpoint_not-a-timestamp.txt")
		require.NoError(t, os.WriteFile(bogus, nil, 0644))

		previous, _, err := Discover(dir, "repeater-checkpoint", now)
		require.NoError(t, err)
		assert.Equal(t,
			filepath.Join(dir, "repeater-checkpoint_2024-02-01T00-00-00.txt"),
			previous)
	})

	t.Run("other prefixes are not considered", func(t *testing.T) {
		previous, _, err := Discover(dir, "other-prefix", now)
		require.NoError(t, err)
		assert.Empty(t, previous)
	})
}

func TestOpen_MissingCurrentFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cp.txt")

	store, err := Open(path, "", testLogger())
	require.NoError(t, err)
	assert.Equal(t, 0, store.Size())
	assert.False(t, store.Contains(testRun("ds1", 0)))
}

func TestOpen_SeedsFromPrevious(t *testing.T) {
	dir := t.TempDir()
	previous := filepath.Join(dir, "previous.txt")
	current := filepath.Join(dir, "current.txt")

	r := testRun("ds1", 0)
	require.NoError(t, os.WriteFile(previous, []byte(run.Record(r)+"\n"), 0644))

	store, err := Open(current, previous, testLogger())
	require.NoError(t, err)
	assert.True(t, store.Contains(r))

	// The previous content was copied into the current file.
	data, err := os.ReadFile(current)
	require.NoError(t, err)
	assert.Contains(t, string(data), r.Key())
}

func TestOpen_MissingPreviousIsNotFatal(t *testing.T) {
	dir := t.TempDir()
	current := filepath.Join(dir, "current.txt")

	store, err := Open(current, filepath.Join(dir, "does-not-exist.txt"), testLogger())
	require.NoError(t, err)
	assert.Equal(t, 0, store.Size())
}

func TestOpen_DropsTruncatedRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cp.txt")

	complete := testRun("ds1", 0)
	truncated := testRun("ds2", 1)
	content := run.Record(complete) + "\n" +
		strings.TrimSuffix(run.Record(truncated), run.Sentinel) + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	store, err := Open(path, "", testLogger())
	require.NoError(t, err)
	assert.Equal(t, 1, store.Size())
	assert.True(t, store.Contains(complete))
	assert.False(t, store.Contains(truncated))
}

func TestAppendThenReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cp.txt")

	store, err := Open(path, "", testLogger())
	require.NoError(t, err)

	r := testRun("ds1", 3)
	require.NoError(t, store.Append(r))

	// The loaded set is read-only for the invocation's duration; the
	// append becomes visible on the next load.
	assert.False(t, store.Contains(r))

	reloaded, err := Open(path, "", testLogger())
	require.NoError(t, err)
	assert.True(t, reloaded.Contains(r))

	// A second run with another UID and tag matches the same record.
	other := testRun("ds1", 3)
	other.VolatileArgs = []string{"--tag", "another"}
	assert.True(t, reloaded.Contains(other))
}

func TestNopStore(t *testing.T) {
	store := NopStore{}
	r := testRun("ds1", 0)

	require.NoError(t, store.Append(r))
	assert.False(t, store.Contains(r))
}
