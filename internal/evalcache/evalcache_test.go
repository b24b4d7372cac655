package evalcache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const startKey = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq -"

func openJournal(t *testing.T, path string) (*Journal, RecoveryStats) {
	t.Helper()
	j, stats, err := OpenJournal(path, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j, stats
}

func TestJournalFirstWriteWins(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "evals.journal")
	j, _ := openJournal(t, path)

	_, err := j.Get(ctx, startKey)
	require.ErrorIs(t, err, ErrNotFound)

	first, err := j.PutIfAbsent(ctx, Entry{Key: startKey, Score: 0.55, Raw: "cp 35", Depth: 18, Engine: "stub"})
	require.NoError(t, err)
	require.Equal(t, 0.55, first.Score)

	second, err := j.PutIfAbsent(ctx, Entry{Key: startKey, Score: 0.1, Raw: "cp -300"})
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.NoError(t, j.Close())

	reopened, stats := openJournal(t, path)
	require.Equal(t, 1, stats.Loaded)
	got, err := reopened.Get(ctx, startKey)
	require.NoError(t, err)
	require.Equal(t, first, got)
}

// shortWriter fails the next write after writing half of it.
type shortWriter struct {
	journalFile
	fail bool
}

func (w *shortWriter) Write(p []byte) (int, error) {
	if !w.fail {
		return w.journalFile.Write(p)
	}
	w.fail = false
	n, _ := w.journalFile.Write(p[:len(p)/2])
	return n, errors.New("disk full")
}

func TestJournalFailedWriteLeavesNoFragment(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "evals.journal")
	j, _ := openJournal(t, path)
	_, err := j.PutIfAbsent(ctx, Entry{Key: "a", Score: 0.5})
	require.NoError(t, err)

	w := &shortWriter{journalFile: j.f, fail: true}
	j.f = w
	_, err = j.PutIfAbsent(ctx, Entry{Key: "b", Score: 0.4})
	require.ErrorContains(t, err, "disk full")
	_, err = j.Get(ctx, "b")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = j.PutIfAbsent(ctx, Entry{Key: "c", Score: 0.3})
	require.NoError(t, err)
	require.NoError(t, j.Close())

	reopened, stats := openJournal(t, path)
	require.Equal(t, RecoveryStats{Loaded: 2}, stats)
	got, err := reopened.Get(ctx, "c")
	require.NoError(t, err)
	require.Equal(t, 0.3, got.Score)
}

func TestJournalRecovery(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "evals.journal")
	j, _ := openJournal(t, path)
	for _, k := range []string{"a", "b"} {
		_, err := j.PutIfAbsent(ctx, Entry{Key: k, Score: 0.5})
		require.NoError(t, err)
	}
	require.NoError(t, j.Close())

	good, err := encodeLine(Entry{Key: "c", Score: 0.25})
	require.NoError(t, err)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("deadbeef\t{\"key\":\"x\"}\n")
	require.NoError(t, err)
	_, err = f.Write(good)
	require.NoError(t, err)
	_, err = f.WriteString("0000\tgarbage\n12ab\t{\"key\":")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	before, err := os.Stat(path)
	require.NoError(t, err)

	r, stats := openJournal(t, path)
	require.Equal(t, 3, stats.Loaded)
	require.Equal(t, 1, stats.Skipped)
	require.Positive(t, stats.Truncated)
	require.Equal(t, 3, r.Len())

	after, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, before.Size()-stats.Truncated, after.Size())

	// appends continue after the last good entry
	_, err = r.PutIfAbsent(ctx, Entry{Key: "d", Score: 1})
	require.NoError(t, err)
	require.NoError(t, r.Close())

	again, stats := openJournal(t, path)
	require.Equal(t, 4, stats.Loaded)
	require.Zero(t, stats.Truncated)
	got, err := again.Get(ctx, "d")
	require.NoError(t, err)
	require.Equal(t, 1.0, got.Score)
}

func TestJournalConcurrentPuts(t *testing.T) {
	ctx := context.Background()
	j, _ := openJournal(t, filepath.Join(t.TempDir(), "evals.journal"))

	var wg sync.WaitGroup
	results := make([]Entry, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e, err := j.PutIfAbsent(ctx, Entry{Key: startKey, Score: float64(i) / 16})
			require.NoError(t, err)
			results[i] = e
		}(i)
	}
	wg.Wait()
	for _, e := range results {
		require.Equal(t, results[0], e)
	}
	require.Equal(t, 1, j.Len())
}

type countingStore struct {
	Store
	gets, puts int
}

func (c *countingStore) Get(ctx context.Context, key string) (Entry, error) {
	c.gets++
	return c.Store.Get(ctx, key)
}

func (c *countingStore) PutIfAbsent(ctx context.Context, e Entry) (Entry, error) {
	c.puts++
	return c.Store.PutIfAbsent(ctx, e)
}

func TestMemoServesFromMemory(t *testing.T) {
	ctx := context.Background()
	j, _ := openJournal(t, filepath.Join(t.TempDir(), "evals.journal"))
	backend := &countingStore{Store: j}
	m, err := NewMemo(backend, 2)
	require.NoError(t, err)

	_, err = m.Get(ctx, startKey)
	require.ErrorIs(t, err, ErrNotFound)

	e, err := m.PutIfAbsent(ctx, Entry{Key: startKey, Score: 0.6})
	require.NoError(t, err)
	again, err := m.PutIfAbsent(ctx, Entry{Key: startKey, Score: 0.2})
	require.NoError(t, err)
	require.Equal(t, e, again)
	require.Equal(t, 1, backend.puts)

	for i := 0; i < 3; i++ {
		got, err := m.Get(ctx, startKey)
		require.NoError(t, err)
		require.Equal(t, 0.6, got.Score)
	}
	require.Equal(t, 1, backend.gets)

	// evicted entries fall through to the backend
	_, err = m.PutIfAbsent(ctx, Entry{Key: "b", Score: 0.1})
	require.NoError(t, err)
	_, err = m.PutIfAbsent(ctx, Entry{Key: "c", Score: 0.1})
	require.NoError(t, err)
	require.Equal(t, 2, m.Len())
	got, err := m.Get(ctx, startKey)
	require.NoError(t, err)
	require.Equal(t, 0.6, got.Score)
	require.Equal(t, 2, backend.gets)
}
