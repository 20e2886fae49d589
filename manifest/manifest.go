// Package manifest captures a snapshot of the engine's level/run/sstable
// layout — next_seq_num, next_file_num, and the full level hierarchy's key
// ranges and membership — and persists it atomically (temp file + rename)
// after every compaction, so a restart has a durable record of what
// exists on disk without re-scanning the sstables directory.
package manifest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/arjunkhera/lsmkv/keys"
	"github.com/arjunkhera/lsmkv/level"
	"github.com/arjunkhera/lsmkv/run"
)

// FileName is the manifest's fixed file name.
const FileName = "manifest"

// SSTableManifest is one SSTable's durable identity.
type SSTableManifest struct {
	FileNum     keys.FileNum
	FileSize    int64
	MinTableKey keys.TableKey
	MaxTableKey keys.TableKey
}

// RunManifest is one run's membership and declared key range.
type RunManifest struct {
	MinTableKey keys.TableKey
	MaxTableKey keys.TableKey
	SSTables    []SSTableManifest
}

// LevelManifest is one level's capacities, declared key range, and runs.
type LevelManifest struct {
	LevelNum     int
	RunCapacity  int
	SizeCapacity int64
	HasRange     bool
	MinTableKey  keys.TableKey
	MaxTableKey  keys.TableKey
	Runs         []RunManifest
}

// Manifest is the full durable snapshot of engine layout.
type Manifest struct {
	NextSeqNum  keys.SeqNum
	NextFileNum keys.FileNum
	Levels      []LevelManifest
}

// BuildSnapshot assembles a Manifest from live engine state. It takes no
// dependency on the engine package itself (which would cycle); the
// engine calls this with its own levels slice after each compaction.
func BuildSnapshot(nextSeqNum keys.SeqNum, nextFileNum keys.FileNum, levels []*level.Level) Manifest {
	m := Manifest{NextSeqNum: nextSeqNum, NextFileNum: nextFileNum}
	for _, lvl := range levels {
		lm := LevelManifest{
			LevelNum:     lvl.LevelNum,
			RunCapacity:  lvl.RunCapacity,
			SizeCapacity: lvl.SizeCapacity,
			HasRange:     len(lvl.Runs) > 0,
			MinTableKey:  lvl.MinTableKey,
			MaxTableKey:  lvl.MaxTableKey,
		}
		for _, r := range lvl.Runs {
			lm.Runs = append(lm.Runs, runManifestOf(r))
		}
		m.Levels = append(m.Levels, lm)
	}
	return m
}

func runManifestOf(r *run.Run) RunManifest {
	rm := RunManifest{MinTableKey: r.MinTableKey, MaxTableKey: r.MaxTableKey}
	for _, sst := range r.SSTables {
		rm.SSTables = append(rm.SSTables, SSTableManifest{
			FileNum:     sst.FileNum,
			FileSize:    sst.FileSize,
			MinTableKey: sst.MinTableKey,
			MaxTableKey: sst.MaxTableKey,
		})
	}
	return rm
}

func writeTableKey(buf *bytes.Buffer, tk keys.TableKey) {
	buf.Write(tk.Encode())
}

func readTableKey(r *bytes.Reader) (keys.TableKey, error) {
	raw := make([]byte, keys.TableKeySize)
	if _, err := r.Read(raw); err != nil {
		return keys.TableKey{}, err
	}
	return keys.Decode(raw)
}

// Encode serializes the manifest with fixed-width integer fields
// throughout, matching the rest of the on-disk format's encoding
// convention.
func (m Manifest) Encode() []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint64(m.NextSeqNum))
	binary.Write(&buf, binary.LittleEndian, uint64(m.NextFileNum))
	binary.Write(&buf, binary.LittleEndian, uint32(len(m.Levels)))

	for _, lm := range m.Levels {
		binary.Write(&buf, binary.LittleEndian, uint32(lm.LevelNum))
		binary.Write(&buf, binary.LittleEndian, uint32(lm.RunCapacity))
		binary.Write(&buf, binary.LittleEndian, uint64(lm.SizeCapacity))
		binary.Write(&buf, binary.LittleEndian, uint32(len(lm.Runs)))
		hasRange := uint8(0)
		if lm.HasRange {
			hasRange = 1
		}
		buf.WriteByte(hasRange)
		if lm.HasRange {
			writeTableKey(&buf, lm.MinTableKey)
			writeTableKey(&buf, lm.MaxTableKey)
		}

		for _, rm := range lm.Runs {
			binary.Write(&buf, binary.LittleEndian, uint32(len(rm.SSTables)))
			writeTableKey(&buf, rm.MinTableKey)
			writeTableKey(&buf, rm.MaxTableKey)
			for _, sm := range rm.SSTables {
				binary.Write(&buf, binary.LittleEndian, uint64(sm.FileNum))
				binary.Write(&buf, binary.LittleEndian, uint64(sm.FileSize))
				writeTableKey(&buf, sm.MinTableKey)
				writeTableKey(&buf, sm.MaxTableKey)
			}
		}
	}
	return buf.Bytes()
}

// Decode parses a manifest encoded by Encode.
func Decode(data []byte) (Manifest, error) {
	r := bytes.NewReader(data)
	var m Manifest

	var nextSeqNum, nextFileNum uint64
	var numLevels uint32
	if err := binary.Read(r, binary.LittleEndian, &nextSeqNum); err != nil {
		return Manifest{}, fmt.Errorf("manifest: reading next_seq_num: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &nextFileNum); err != nil {
		return Manifest{}, fmt.Errorf("manifest: reading next_file_num: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &numLevels); err != nil {
		return Manifest{}, fmt.Errorf("manifest: reading num_levels: %w", err)
	}
	m.NextSeqNum = keys.SeqNum(nextSeqNum)
	m.NextFileNum = keys.FileNum(nextFileNum)

	for i := uint32(0); i < numLevels; i++ {
		var lm LevelManifest
		var levelNum, runCapacity uint32
		var sizeCapacity uint64
		var numRuns uint32
		if err := binary.Read(r, binary.LittleEndian, &levelNum); err != nil {
			return Manifest{}, fmt.Errorf("manifest: reading level %d num: %w", i, err)
		}
		if err := binary.Read(r, binary.LittleEndian, &runCapacity); err != nil {
			return Manifest{}, fmt.Errorf("manifest: reading level %d run_capacity: %w", i, err)
		}
		if err := binary.Read(r, binary.LittleEndian, &sizeCapacity); err != nil {
			return Manifest{}, fmt.Errorf("manifest: reading level %d size_capacity: %w", i, err)
		}
		if err := binary.Read(r, binary.LittleEndian, &numRuns); err != nil {
			return Manifest{}, fmt.Errorf("manifest: reading level %d num_runs: %w", i, err)
		}
		lm.LevelNum = int(levelNum)
		lm.RunCapacity = int(runCapacity)
		lm.SizeCapacity = int64(sizeCapacity)

		hasRange, err := r.ReadByte()
		if err != nil {
			return Manifest{}, fmt.Errorf("manifest: reading level %d range flag: %w", i, err)
		}
		lm.HasRange = hasRange != 0
		if lm.HasRange {
			if lm.MinTableKey, err = readTableKey(r); err != nil {
				return Manifest{}, fmt.Errorf("manifest: reading level %d min key: %w", i, err)
			}
			if lm.MaxTableKey, err = readTableKey(r); err != nil {
				return Manifest{}, fmt.Errorf("manifest: reading level %d max key: %w", i, err)
			}
		}

		for j := uint32(0); j < numRuns; j++ {
			var rm RunManifest
			var numSSTables uint32
			if err := binary.Read(r, binary.LittleEndian, &numSSTables); err != nil {
				return Manifest{}, fmt.Errorf("manifest: reading level %d run %d count: %w", i, j, err)
			}
			if rm.MinTableKey, err = readTableKey(r); err != nil {
				return Manifest{}, fmt.Errorf("manifest: reading level %d run %d min key: %w", i, j, err)
			}
			if rm.MaxTableKey, err = readTableKey(r); err != nil {
				return Manifest{}, fmt.Errorf("manifest: reading level %d run %d max key: %w", i, j, err)
			}
			for k := uint32(0); k < numSSTables; k++ {
				var sm SSTableManifest
				var fileNum, fileSize uint64
				if err := binary.Read(r, binary.LittleEndian, &fileNum); err != nil {
					return Manifest{}, fmt.Errorf("manifest: reading sstable %d file_num: %w", k, err)
				}
				if err := binary.Read(r, binary.LittleEndian, &fileSize); err != nil {
					return Manifest{}, fmt.Errorf("manifest: reading sstable %d file_size: %w", k, err)
				}
				sm.FileNum = keys.FileNum(fileNum)
				sm.FileSize = int64(fileSize)
				if sm.MinTableKey, err = readTableKey(r); err != nil {
					return Manifest{}, fmt.Errorf("manifest: reading sstable %d min key: %w", k, err)
				}
				if sm.MaxTableKey, err = readTableKey(r); err != nil {
					return Manifest{}, fmt.Errorf("manifest: reading sstable %d max key: %w", k, err)
				}
				rm.SSTables = append(rm.SSTables, sm)
			}
			lm.Runs = append(lm.Runs, rm)
		}
		m.Levels = append(m.Levels, lm)
	}
	return m, nil
}

// Write persists the manifest atomically: it writes to a temp file in the
// same directory, then renames it over the manifest path, so a reader
// never observes a partially-written manifest.
func Write(dataDir string, m Manifest) error {
	path := filepath.Join(dataDir, FileName)
	tmp, err := os.CreateTemp(dataDir, FileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("manifest: creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(m.Encode()); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("manifest: writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("manifest: closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("manifest: renaming into place: %w", err)
	}
	return nil
}

// Read loads the manifest at <dataDir>/manifest. A missing file is not an
// error: it returns the zero Manifest with ok false.
func Read(dataDir string) (m Manifest, ok bool, err error) {
	path := filepath.Join(dataDir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Manifest{}, false, nil
		}
		return Manifest{}, false, fmt.Errorf("manifest: reading %s: %w", path, err)
	}
	m, err = Decode(data)
	if err != nil {
		return Manifest{}, false, err
	}
	return m, true, nil
}
