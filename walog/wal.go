// Package walog implements the write-ahead log: an append-only record of
// the exact table-key encoding of every put/delete, replayed into the
// memtable on startup and truncated after each minor compaction.
//
// This is an external-but-specified collaborator (spec.md §6): the core
// engine does not mandate the recovery algorithm, only that hooks exist
// to emit a record per write and to reset the log after a flush. The
// engine package is this log's one caller.
package walog

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/arjunkhera/lsmkv/keys"
)

// FileName is the WAL's fixed file name, matching the single unnamed
// "log" file of the original implementation.
const FileName = "wal"

// Writer appends table keys to an on-disk log as their exact fixed-width
// encoding, flushing after every push so a crash loses at most nothing
// already acknowledged.
type Writer struct {
	path string
	file *os.File
}

// Open creates or appends to the WAL file at <dataDir>/wal.
func Open(dataDir string) (*Writer, error) {
	path := filepath.Join(dataDir, FileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("walog: opening %s: %w", path, err)
	}
	return &Writer{path: path, file: f}, nil
}

// Push appends one table key's encoding and flushes it to disk.
func (w *Writer) Push(tk keys.TableKey) error {
	if _, err := w.file.Write(tk.Encode()); err != nil {
		return fmt.Errorf("walog: writing record: %w", err)
	}
	return w.file.Sync()
}

// Reset truncates the log to empty, used after a minor compaction has
// durably flushed the memtable these records described.
func (w *Writer) Reset() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("walog: closing %s before reset: %w", w.path, err)
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("walog: truncating %s: %w", w.path, err)
	}
	w.file = f
	return nil
}

// Close releases the log's file handle.
func (w *Writer) Close() error {
	return w.file.Close()
}

// ReadAll replays every table key recorded in <dataDir>/wal, in the
// order they were written. A missing log file is not an error: it means
// a fresh data directory with nothing to recover.
func ReadAll(dataDir string) ([]keys.TableKey, error) {
	path := filepath.Join(dataDir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("walog: reading %s: %w", path, err)
	}
	if len(data)%keys.TableKeySize != 0 {
		return nil, fmt.Errorf("walog: %s has a trailing partial record (%d bytes, not a multiple of %d)", path, len(data), keys.TableKeySize)
	}

	out := make([]keys.TableKey, 0, len(data)/keys.TableKeySize)
	for off := 0; off < len(data); off += keys.TableKeySize {
		tk, err := keys.Decode(data[off : off+keys.TableKeySize])
		if err != nil {
			return nil, fmt.Errorf("walog: decoding record at offset %d: %w", off, err)
		}
		out = append(out, tk)
	}
	return out, nil
}
