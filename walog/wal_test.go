package walog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/arjunkhera/lsmkv/keys"
	"github.com/stretchr/testify/require"
)

func TestWriteAndReadAllRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir)
	require.NoError(t, err)

	want := []keys.TableKey{
		keys.New(1, 1, keys.Put, 10),
		keys.New(2, 2, keys.Put, 20),
		keys.New(1, 3, keys.Delete, 0),
	}
	for _, tk := range want {
		require.NoError(t, w.Push(tk))
	}
	require.NoError(t, w.Close())

	got, err := ReadAll(dir)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestResetTruncatesLog(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, w.Push(keys.New(1, 1, keys.Put, 10)))
	require.NoError(t, w.Reset())
	require.NoError(t, w.Close())

	got, err := ReadAll(dir)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestReadAllOnMissingFileReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	got, err := ReadAll(dir)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestReadAllRejectsPartialTrailingRecord(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, w.Push(keys.New(1, 1, keys.Put, 0)))
	require.NoError(t, w.Close())

	// Append a partial record directly to corrupt the trailing entry.
	f, err := os.OpenFile(filepath.Join(dir, FileName), os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte{1, 2, 3})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = ReadAll(dir)
	require.Error(t, err)
}
