package sstable

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/arjunkhera/lsmkv/block"
	"github.com/arjunkhera/lsmkv/keys"
	"github.com/stretchr/testify/require"
)

func newTestDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, Dir), 0o755))
	return dir
}

func fileNumAllocator(start uint64) func() keys.FileNum {
	n := start
	return func() keys.FileNum {
		fn := keys.FileNum(n)
		n++
		return fn
	}
}

func TestWriterSealsAndIteratorYieldsAllKeys(t *testing.T) {
	dir := newTestDir(t)
	w, err := NewWriter(dir, 1)
	require.NoError(t, err)

	var want []keys.TableKey
	for i := keys.UserKey(0); i < 500; i++ {
		tk := keys.New(i, 1, keys.Put, keys.UserValue(i))
		require.NoError(t, w.Push(tk))
		want = append(want, tk)
	}

	sst, err := w.Done()
	require.NoError(t, err)
	require.Equal(t, want[0], sst.MinTableKey)
	require.Equal(t, want[len(want)-1], sst.MaxTableKey)
	require.Equal(t, block.FileSize(len(want)), sst.FileSize)

	r, err := Open(dir, sst.FileNum)
	require.NoError(t, err)
	defer r.Close()

	it := r.NewIterator()
	var got []keys.TableKey
	for {
		require.NoError(t, it.Next())
		if !it.Valid() {
			break
		}
		cur, ok := it.Curr()
		require.True(t, ok)
		got = append(got, cur)
	}
	require.Equal(t, want, got)
}

func TestWriterRefusesEmptyTable(t *testing.T) {
	dir := newTestDir(t)
	w, err := NewWriter(dir, 1)
	require.NoError(t, err)
	_, err = w.Done()
	require.Error(t, err)

	_, statErr := os.Stat(Path(dir, 1))
	require.True(t, os.IsNotExist(statErr), "an empty table must not leave a file behind")
}

func TestIteratorSeekFindsExactKey(t *testing.T) {
	dir := newTestDir(t)
	w, err := NewWriter(dir, 7)
	require.NoError(t, err)
	for i := keys.UserKey(0); i < 200; i += 2 {
		require.NoError(t, w.Push(keys.New(i, 1, keys.Put, keys.UserValue(i))))
	}
	sst, err := w.Done()
	require.NoError(t, err)

	r, err := Open(dir, sst.FileNum)
	require.NoError(t, err)
	defer r.Close()

	it := r.NewIterator()
	require.NoError(t, it.Seek(keys.NewLookup(50, 100)))
	require.True(t, it.Valid())
	cur, _ := it.Curr()
	require.Equal(t, keys.UserKey(50), cur.UserKey)
}

func TestIteratorSeekKeyMissingFromFilterIsExhausted(t *testing.T) {
	dir := newTestDir(t)
	w, err := NewWriter(dir, 8)
	require.NoError(t, err)
	for i := keys.UserKey(0); i < 200; i += 2 {
		require.NoError(t, w.Push(keys.New(i, 1, keys.Put, keys.UserValue(i))))
	}
	sst, err := w.Done()
	require.NoError(t, err)

	r, err := Open(dir, sst.FileNum)
	require.NoError(t, err)
	defer r.Close()

	it := r.NewIterator()
	require.NoError(t, it.Seek(keys.NewLookup(51, 100)))
	require.False(t, it.Valid())
	_, ok := it.Curr()
	require.False(t, ok)
}

func TestIteratorSeekPastEndIsExhausted(t *testing.T) {
	dir := newTestDir(t)
	w, err := NewWriter(dir, 9)
	require.NoError(t, err)
	require.NoError(t, w.Push(keys.New(1, 1, keys.Put, 0)))
	sst, err := w.Done()
	require.NoError(t, err)

	r, err := Open(dir, sst.FileNum)
	require.NoError(t, err)
	defer r.Close()

	it := r.NewIterator()
	require.NoError(t, it.Seek(keys.NewLookup(999, 1)))
	require.False(t, it.Valid())
}

func TestWriterBatchCutsOnCapacity(t *testing.T) {
	dir := newTestDir(t)
	capacity := block.FileSize(block.KeysPerBlock) // exactly one data block's worth
	wb := NewWriterBatch(dir, capacity, fileNumAllocator(1))

	total := block.KeysPerBlock*2 + 3
	for i := 0; i < total; i++ {
		require.NoError(t, wb.Push(keys.New(keys.UserKey(i), 1, keys.Put, keys.UserValue(i))))
	}
	tables, minKey, maxKey, ok, err := wb.Done()
	require.NoError(t, err)
	require.True(t, ok)
	require.Greater(t, len(tables), 1, "the stream must be cut into more than one sealed table")
	require.Equal(t, keys.UserKey(0), minKey.UserKey)
	require.Equal(t, keys.UserKey(total-1), maxKey.UserKey)

	for _, sst := range tables {
		require.LessOrEqual(t, sst.FileSize, capacity)
	}
}

func TestWriterBatchEmptyStreamProducesNothing(t *testing.T) {
	dir := newTestDir(t)
	wb := NewWriterBatch(dir, block.FileSize(block.KeysPerBlock), fileNumAllocator(1))
	tables, _, _, ok, err := wb.Done()
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, tables)
}
