// Package sstable implements the immutable, block-structured, on-disk
// sorted table: the writer that seals a stream of table keys into one
// file, the writer batch that cuts a longer stream into size-capped
// files, and the reader/iterator that serves lookups and scans.
package sstable

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/arjunkhera/lsmkv/block"
	"github.com/arjunkhera/lsmkv/bloom"
	"github.com/arjunkhera/lsmkv/iterator"
	"github.com/arjunkhera/lsmkv/keys"
)

// Dir is the subdirectory, relative to the engine's data directory, that
// holds every SSTable file.
const Dir = "sstables"

// SSTable is an immutable descriptor for one sealed file: its number, its
// exact on-disk size, and the table-key range it covers.
type SSTable struct {
	FileNum     keys.FileNum
	FileSize    int64
	MinTableKey keys.TableKey
	MaxTableKey keys.TableKey
}

// Path returns the on-disk path of an SSTable given the engine's data
// directory.
func Path(dataDir string, fileNum keys.FileNum) string {
	return filepath.Join(dataDir, Dir, fmt.Sprintf("sstable_file_%d", fileNum))
}

// Path returns this SSTable's on-disk path given the engine's data
// directory.
func (s SSTable) Path(dataDir string) string {
	return Path(dataDir, s.FileNum)
}

// Writer seals a single stream of table keys, presented in ascending
// table-key order, into one SSTable file.
type Writer struct {
	fileNum           keys.FileNum
	file              *os.File
	dataBlock         *block.DataBlock
	index             block.IndexBlock
	filter            *bloom.Filter
	numTableKeys      uint64
	minTableKey       keys.TableKey
	maxTableKey       keys.TableKey
	hasAny            bool
	dataBlocksWritten int
}

// NewWriter creates the backing file for fileNum and returns a writer
// ready to accept pushes.
func NewWriter(dataDir string, fileNum keys.FileNum) (*Writer, error) {
	path := Path(dataDir, fileNum)
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("sstable: creating %s: %w", path, err)
	}
	return &Writer{
		fileNum:   fileNum,
		file:      f,
		dataBlock: block.NewDataBlock(),
		filter:    bloom.New(),
	}, nil
}

// Push appends a table key, flushing the current data block first if it is
// full.
func (w *Writer) Push(tk keys.TableKey) error {
	if w.dataBlock.Full() {
		if err := w.flushDataBlock(); err != nil {
			return err
		}
	}
	w.dataBlock.Add(tk)
	w.filter.Insert(keys.EncodeUserKey(tk.UserKey))
	w.numTableKeys++

	if !w.hasAny {
		w.minTableKey, w.maxTableKey = tk, tk
		w.hasAny = true
	} else {
		if tk.Less(w.minTableKey) {
			w.minTableKey = tk
		}
		if w.maxTableKey.Less(tk) {
			w.maxTableKey = tk
		}
	}
	return nil
}

func (w *Writer) flushDataBlock() error {
	if _, err := w.file.Write(w.dataBlock.Encode()); err != nil {
		return fmt.Errorf("sstable: writing data block: %w", err)
	}
	w.index.Add(w.dataBlock.FencePointer())
	w.dataBlocksWritten++
	w.dataBlock = block.NewDataBlock()
	return nil
}

// Done flushes any pending data block, writes the filter, index, and
// footer blocks, closes the file, and returns the sealed descriptor. A
// writer that never received a push produces no file: callers must not
// call Done before at least one Push (see sstable.WriterBatch, which
// enforces this).
func (w *Writer) Done() (SSTable, error) {
	if w.numTableKeys == 0 {
		w.file.Close()
		os.Remove(w.file.Name())
		return SSTable{}, fmt.Errorf("sstable: refusing to seal an empty table (file %d)", w.fileNum)
	}
	if w.dataBlock.Len() > 0 {
		if err := w.flushDataBlock(); err != nil {
			return SSTable{}, err
		}
	}

	filterOff := int64(w.dataBlocksWritten) * block.Size
	filterBuf, err := block.EncodeFilterBlock(w.filter)
	if err != nil {
		return SSTable{}, fmt.Errorf("sstable: encoding filter block: %w", err)
	}
	if _, err := w.file.Write(filterBuf); err != nil {
		return SSTable{}, fmt.Errorf("sstable: writing filter block: %w", err)
	}

	indexOff := filterOff + block.Size
	indexBuf, err := w.index.Encode()
	if err != nil {
		return SSTable{}, fmt.Errorf("sstable: encoding index block: %w", err)
	}
	if _, err := w.file.Write(indexBuf); err != nil {
		return SSTable{}, fmt.Errorf("sstable: writing index block: %w", err)
	}

	footer := block.Footer{
		NumTableKeys:   w.numTableKeys,
		FilterBlockOff: uint64(filterOff),
		IndexBlockOff:  uint64(indexOff),
		MinTableKey:    w.minTableKey,
		MaxTableKey:    w.maxTableKey,
	}
	if _, err := w.file.Write(footer.Encode()); err != nil {
		return SSTable{}, fmt.Errorf("sstable: writing footer: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return SSTable{}, fmt.Errorf("sstable: closing %s: %w", w.file.Name(), err)
	}

	return SSTable{
		FileNum:     w.fileNum,
		FileSize:    block.FileSize(int(w.numTableKeys)),
		MinTableKey: w.minTableKey,
		MaxTableKey: w.maxTableKey,
	}, nil
}

// WriterBatch cuts one logical stream of table keys into as many SSTables
// as needed so that none exceeds capacityBytes and none has more data
// blocks than one index block holds fence pointers for (block.KeysPerBlock),
// allocating file numbers from allocFileNum as it goes. Keys must arrive in strictly ascending
// table-key order; the resulting SSTables are therefore automatically
// non-overlapping and already sorted, ready to form a run.
type WriterBatch struct {
	dataDir       string
	capacityBytes int64
	allocFileNum  func() keys.FileNum

	current      *Writer
	currentCount int

	sealed      []SSTable
	minTableKey keys.TableKey
	maxTableKey keys.TableKey
	hasAny      bool
}

// NewWriterBatch returns a batch writer bounded by capacityBytes per file.
func NewWriterBatch(dataDir string, capacityBytes int64, allocFileNum func() keys.FileNum) *WriterBatch {
	return &WriterBatch{dataDir: dataDir, capacityBytes: capacityBytes, allocFileNum: allocFileNum}
}

// Push appends the next table key in the stream.
func (wb *WriterBatch) Push(tk keys.TableKey) error {
	if wb.current != nil {
		projected := block.FileSize(wb.currentCount + 1)
		if projected > wb.capacityBytes || block.NumDataBlocks(wb.currentCount+1) > block.KeysPerBlock {
			if err := wb.seal(); err != nil {
				return err
			}
		}
	}
	if wb.current == nil {
		w, err := NewWriter(wb.dataDir, wb.allocFileNum())
		if err != nil {
			return err
		}
		wb.current = w
		wb.currentCount = 0
	}
	if err := wb.current.Push(tk); err != nil {
		return err
	}
	wb.currentCount++

	if !wb.hasAny {
		wb.minTableKey, wb.maxTableKey = tk, tk
		wb.hasAny = true
	} else {
		if tk.Less(wb.minTableKey) {
			wb.minTableKey = tk
		}
		if wb.maxTableKey.Less(tk) {
			wb.maxTableKey = tk
		}
	}
	return nil
}

func (wb *WriterBatch) seal() error {
	sst, err := wb.current.Done()
	if err != nil {
		return err
	}
	wb.sealed = append(wb.sealed, sst)
	wb.current = nil
	wb.currentCount = 0
	return nil
}

// Done seals any pending writer and returns every sealed SSTable plus the
// aggregate min/max table key across the whole stream. If no key was ever
// pushed, it returns an empty slice and the ok flag false.
func (wb *WriterBatch) Done() (tables []SSTable, minTableKey, maxTableKey keys.TableKey, ok bool, err error) {
	if wb.current != nil {
		if err := wb.seal(); err != nil {
			return nil, keys.TableKey{}, keys.TableKey{}, false, err
		}
	}
	return wb.sealed, wb.minTableKey, wb.maxTableKey, wb.hasAny, nil
}

// Reader holds a sealed SSTable's footer, filter, and index blocks, eagerly
// loaded, plus the open file handle used to lazily load data blocks. Close
// must be called once the reader (and any iterators over it) are no longer
// needed, per the engine's no-cached-handles rule.
type Reader struct {
	file          *os.File
	footer        block.Footer
	filter        *bloom.Filter
	index         *block.IndexBlock
	numDataBlocks int
}

// Open reads a sealed SSTable's footer, filter, and index blocks eagerly.
// Data blocks are left on disk and loaded lazily by iterators.
func Open(dataDir string, fileNum keys.FileNum) (*Reader, error) {
	path := Path(dataDir, fileNum)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sstable: opening %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("sstable: stat %s: %w", path, err)
	}
	footerOff := info.Size() - block.Size
	if footerOff < 0 {
		f.Close()
		return nil, fmt.Errorf("sstable: %s is smaller than one block", path)
	}

	footerBuf := make([]byte, block.Size)
	if _, err := f.ReadAt(footerBuf, footerOff); err != nil {
		f.Close()
		return nil, fmt.Errorf("sstable: reading footer of %s: %w", path, err)
	}
	footer, err := block.DecodeFooter(footerBuf)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("sstable: %s: %w", path, err)
	}

	numDataBlocks := block.NumDataBlocks(int(footer.NumTableKeys))

	filterBuf := make([]byte, block.Size)
	if _, err := f.ReadAt(filterBuf, int64(footer.FilterBlockOff)); err != nil {
		f.Close()
		return nil, fmt.Errorf("sstable: reading filter block of %s: %w", path, err)
	}
	filter, err := block.DecodeFilterBlock(filterBuf)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("sstable: %s: %w", path, err)
	}

	indexBuf := make([]byte, block.Size)
	if _, err := f.ReadAt(indexBuf, int64(footer.IndexBlockOff)); err != nil {
		f.Close()
		return nil, fmt.Errorf("sstable: reading index block of %s: %w", path, err)
	}
	index, err := block.DecodeIndexBlock(indexBuf, numDataBlocks)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("sstable: %s: %w", path, err)
	}

	return &Reader{
		file:          f,
		footer:        footer,
		filter:        filter,
		index:         index,
		numDataBlocks: numDataBlocks,
	}, nil
}

// Close releases the reader's file handle.
func (r *Reader) Close() error {
	return r.file.Close()
}

// MinTableKey and MaxTableKey report the SSTable's declared key range.
func (r *Reader) MinTableKey() keys.TableKey { return r.footer.MinTableKey }
func (r *Reader) MaxTableKey() keys.TableKey { return r.footer.MaxTableKey }

func (r *Reader) blockKeyCount(idx int) int {
	remaining := int(r.footer.NumTableKeys) - idx*block.KeysPerBlock
	if remaining > block.KeysPerBlock {
		return block.KeysPerBlock
	}
	return remaining
}

func (r *Reader) loadBlock(idx int) ([]keys.TableKey, error) {
	buf := make([]byte, block.Size)
	if _, err := r.file.ReadAt(buf, int64(idx)*block.Size); err != nil {
		return nil, fmt.Errorf("sstable: reading data block %d: %w", idx, err)
	}
	return block.DecodeDataBlock(buf, r.blockKeyCount(idx))
}

// NewIterator returns a fresh cursor over this reader's table keys.
func (r *Reader) NewIterator() *Iterator {
	return &Iterator{r: r, blockIdx: -1}
}

// Iterator is the pull-based cursor over one SSTable's table keys. It
// satisfies iterator.TableKeyIterator.
type Iterator struct {
	r          *Reader
	blockIdx   int
	blockKeys  []keys.TableKey
	pos        int
	valid      bool
}

var _ iterator.TableKeyIterator = (*Iterator)(nil)

// Seek consults the filter first; a miss exhausts the iterator without
// touching disk beyond the blocks already loaded. A hit binary-searches
// the index for the first fence pointer covering lookup.UserKey, loads
// that data block, and positions within it at the first table key at or
// after lookup's projection. A fence-pointer hit whose block turns out
// not to contain the key signals a bloom false negative, which I6
// forbids, and is treated as a fatal invariant violation rather than a
// silent miss.
func (it *Iterator) Seek(lookup keys.LookupKey) error {
	if !it.r.filter.MaybeContain(keys.EncodeUserKey(lookup.UserKey)) {
		it.valid = false
		return nil
	}

	fps := it.r.index.FencePointers
	idx := sort.Search(len(fps), func(i int) bool { return fps[i].UserKey >= lookup.UserKey })
	if idx == len(fps) {
		it.valid = false
		return nil
	}

	blockKeys, err := it.r.loadBlock(idx)
	if err != nil {
		return err
	}
	target := lookup.AsTableKey()
	pos := sort.Search(len(blockKeys), func(i int) bool { return target.LessOrEqual(blockKeys[i]) })
	if pos == len(blockKeys) {
		panic(fmt.Sprintf("sstable: fence pointer for block %d matched user_key %d but the block does not contain it", idx, lookup.UserKey))
	}

	it.blockIdx = idx
	it.blockKeys = blockKeys
	it.pos = pos
	it.valid = true
	return nil
}

// Next advances to the next table key in file order, loading the next
// data block on exhaustion of the current one. The first call after
// construction lands on the first table key, if any.
func (it *Iterator) Next() error {
	if it.blockIdx == -1 {
		if it.r.numDataBlocks == 0 {
			it.valid = false
			return nil
		}
		blockKeys, err := it.r.loadBlock(0)
		if err != nil {
			return err
		}
		it.blockIdx = 0
		it.blockKeys = blockKeys
		it.pos = 0
	} else {
		it.pos++
	}

	for it.pos >= len(it.blockKeys) {
		it.blockIdx++
		if it.blockIdx >= it.r.numDataBlocks {
			it.valid = false
			return nil
		}
		blockKeys, err := it.r.loadBlock(it.blockIdx)
		if err != nil {
			return err
		}
		it.blockKeys = blockKeys
		it.pos = 0
	}
	it.valid = true
	return nil
}

// Curr returns the table key at the current cursor position.
func (it *Iterator) Curr() (keys.TableKey, bool) {
	if !it.valid {
		return keys.TableKey{}, false
	}
	return it.blockKeys[it.pos], true
}

// Valid reports whether Curr currently holds a table key.
func (it *Iterator) Valid() bool {
	return it.valid
}
