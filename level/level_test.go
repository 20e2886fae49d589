package level

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/arjunkhera/lsmkv/block"
	"github.com/arjunkhera/lsmkv/keys"
	"github.com/arjunkhera/lsmkv/run"
	"github.com/arjunkhera/lsmkv/sstable"
	"github.com/stretchr/testify/require"
)

func newTestDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, sstable.Dir), 0o755))
	return dir
}

// buildRun writes one SSTable per (userKey, seqNum, writeType, val) entry
// list and wraps them in a run. entries must already be in table-key
// order.
func buildRun(t *testing.T, dir string, fileNum keys.FileNum, entries []keys.TableKey) *run.Run {
	t.Helper()
	w, err := sstable.NewWriter(dir, fileNum)
	require.NoError(t, err)
	for _, tk := range entries {
		require.NoError(t, w.Push(tk))
	}
	sst, err := w.Done()
	require.NoError(t, err)
	return run.New([]sstable.SSTable{sst}, entries[0], entries[len(entries)-1])
}

func TestLevelGetPicksNewestAcrossOverlappingRuns(t *testing.T) {
	dir := newTestDir(t)
	older := buildRun(t, dir, 1, []keys.TableKey{keys.New(5, 1, keys.Put, 100)})
	newer := buildRun(t, dir, 2, []keys.TableKey{keys.New(5, 2, keys.Put, 200)})

	l := New(0, 4, 1<<20)
	// Runs appended oldest first, as minor compaction does; level 0
	// tolerates overlap by design, and Get must still prefer the newer run.
	l.AddRun(older)
	l.AddRun(newer)

	v, deleted, err := l.Get(dir, keys.NewLookup(5, 10))
	require.NoError(t, err)
	require.False(t, deleted)
	require.Equal(t, keys.UserValue(200), *v)
}

func TestLevelGetReportsTombstoneFromNewestRun(t *testing.T) {
	dir := newTestDir(t)
	older := buildRun(t, dir, 1, []keys.TableKey{keys.New(5, 1, keys.Put, 100)})
	newer := buildRun(t, dir, 2, []keys.TableKey{keys.New(5, 2, keys.Delete, 0)})

	l := New(0, 4, 1<<20)
	l.AddRun(older)
	l.AddRun(newer)

	_, deleted, err := l.Get(dir, keys.NewLookup(5, 10))
	require.NoError(t, err)
	require.True(t, deleted)
}

func TestLevelStatePrefersRunCapacityViolation(t *testing.T) {
	dir := newTestDir(t)
	// Each single-key run is block.FileSize(1) bytes, so the second run
	// pushes the level over both its run and its size capacity.
	l := New(0, 1, block.FileSize(1))
	require.Equal(t, Normal, l.State())

	l.AddRun(buildRun(t, dir, 1, []keys.TableKey{keys.New(1, 1, keys.Put, 0)}))
	require.Equal(t, Normal, l.State())

	l.AddRun(buildRun(t, dir, 2, []keys.TableKey{keys.New(2, 1, keys.Put, 0)}))
	require.Equal(t, ExceedRunCapacity, l.State())
}

func TestLevelIteratorDedupsByUserKey(t *testing.T) {
	dir := newTestDir(t)
	older := buildRun(t, dir, 1, []keys.TableKey{
		keys.New(1, 1, keys.Put, 10),
		keys.New(2, 1, keys.Put, 20),
	})
	newer := buildRun(t, dir, 2, []keys.TableKey{
		keys.New(1, 2, keys.Put, 99),
	})

	l := New(0, 4, 1<<20)
	l.AddRun(older)
	l.AddRun(newer)

	it, err := l.NewIterator(dir)
	require.NoError(t, err)
	defer it.Close()

	var got []keys.TableKey
	for {
		require.NoError(t, it.Next())
		if !it.Valid() {
			break
		}
		cur, _ := it.Curr()
		got = append(got, cur)
	}

	require.Equal(t, []keys.TableKey{
		keys.New(1, 2, keys.Put, 99),
		keys.New(2, 1, keys.Put, 20),
	}, got)
}
