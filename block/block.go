// Package block implements the fixed-size block codec shared by every
// SSTable: data blocks, the filter block, the index block, and the footer,
// all framed to BlockSize and zero-padded.
package block

import (
	"encoding/binary"
	"fmt"

	"github.com/arjunkhera/lsmkv/bloom"
	"github.com/arjunkhera/lsmkv/keys"
)

// Size is the fixed framing unit for every block in an SSTable file.
const Size = 4096

// KeysPerBlock is the maximum number of table keys a single data block can
// hold before it must be flushed.
const KeysPerBlock = Size / keys.TableKeySize

// DataBlock accumulates table keys in table-key order until flushed.
type DataBlock struct {
	TableKeys    []keys.TableKey
	MaxTableKey  keys.TableKey
	hasMax       bool
}

// NewDataBlock returns an empty data block.
func NewDataBlock() *DataBlock {
	return &DataBlock{TableKeys: make([]keys.TableKey, 0, KeysPerBlock)}
}

// Full reports whether adding one more key would exceed Size.
func (b *DataBlock) Full() bool {
	return len(b.TableKeys) >= KeysPerBlock
}

// Add appends a table key to the block and updates the block's fence
// pointer (its running maximum). Callers must check Full before calling.
func (b *DataBlock) Add(tk keys.TableKey) {
	b.TableKeys = append(b.TableKeys, tk)
	if !b.hasMax || b.MaxTableKey.Less(tk) {
		b.MaxTableKey = tk
		b.hasMax = true
	}
}

// FencePointer returns the block's fence pointer: the largest table key it
// holds.
func (b *DataBlock) FencePointer() keys.TableKey {
	return b.MaxTableKey
}

// Len reports the number of table keys currently buffered.
func (b *DataBlock) Len() int {
	return len(b.TableKeys)
}

// Encode serializes the data block, zero-padded to Size.
func (b *DataBlock) Encode() []byte {
	buf := make([]byte, Size)
	off := 0
	for _, tk := range b.TableKeys {
		tk.EncodeInto(buf[off : off+keys.TableKeySize])
		off += keys.TableKeySize
	}
	return buf
}

// DecodeDataBlock parses a Size-byte data block back into up to n table
// keys (n is known from the footer/index, since the block is zero-padded
// and a zero UserKey/SeqNum/WriteType run cannot be distinguished from
// padding by itself).
func DecodeDataBlock(buf []byte, n int) ([]keys.TableKey, error) {
	if len(buf) < Size {
		return nil, fmt.Errorf("block: short data block buffer: have %d, want %d", len(buf), Size)
	}
	if n > KeysPerBlock {
		return nil, fmt.Errorf("block: data block claims %d keys, max is %d", n, KeysPerBlock)
	}
	out := make([]keys.TableKey, 0, n)
	off := 0
	for i := 0; i < n; i++ {
		tk, err := keys.Decode(buf[off : off+keys.TableKeySize])
		if err != nil {
			return nil, fmt.Errorf("block: decoding table key %d: %w", i, err)
		}
		out = append(out, tk)
		off += keys.TableKeySize
	}
	return out, nil
}

// EncodeFilterBlock zero-pads a bloom filter's raw encoding to Size. The
// filter's fixed ByteSize is always smaller than Size for the chosen M.
func EncodeFilterBlock(f *bloom.Filter) ([]byte, error) {
	raw := f.Encode()
	if len(raw) > Size {
		return nil, fmt.Errorf("block: filter encoding %d bytes exceeds block size %d", len(raw), Size)
	}
	buf := make([]byte, Size)
	copy(buf, raw)
	return buf, nil
}

// DecodeFilterBlock reconstructs a bloom filter from a Size-byte block.
func DecodeFilterBlock(buf []byte) (*bloom.Filter, error) {
	if len(buf) < Size {
		return nil, fmt.Errorf("block: short filter block buffer: have %d, want %d", len(buf), Size)
	}
	return bloom.Decode(buf[:bloom.ByteSize]), nil
}

// IndexBlock is the sequence of fence pointers, one per data block.
type IndexBlock struct {
	FencePointers []keys.TableKey
}

// Add appends a fence pointer for the next data block written.
func (ib *IndexBlock) Add(fp keys.TableKey) {
	ib.FencePointers = append(ib.FencePointers, fp)
}

// Encode serializes the index block, zero-padded to Size. It must fit: a
// table has at most KeysPerBlock data blocks' worth of fence pointers per
// block of index space, which the writer batch enforces by capping
// per-SSTable size.
func (ib *IndexBlock) Encode() ([]byte, error) {
	need := len(ib.FencePointers) * keys.TableKeySize
	if need > Size {
		return nil, fmt.Errorf("block: index block needs %d bytes, exceeds block size %d", need, Size)
	}
	buf := make([]byte, Size)
	off := 0
	for _, fp := range ib.FencePointers {
		fp.EncodeInto(buf[off : off+keys.TableKeySize])
		off += keys.TableKeySize
	}
	return buf, nil
}

// DecodeIndexBlock parses a Size-byte index block holding numDataBlocks
// fence pointers.
func DecodeIndexBlock(buf []byte, numDataBlocks int) (*IndexBlock, error) {
	if len(buf) < Size {
		return nil, fmt.Errorf("block: short index block buffer: have %d, want %d", len(buf), Size)
	}
	fps := make([]keys.TableKey, 0, numDataBlocks)
	off := 0
	for i := 0; i < numDataBlocks; i++ {
		fp, err := keys.Decode(buf[off : off+keys.TableKeySize])
		if err != nil {
			return nil, fmt.Errorf("block: decoding fence pointer %d: %w", i, err)
		}
		fps = append(fps, fp)
		off += keys.TableKeySize
	}
	return &IndexBlock{FencePointers: fps}, nil
}

const (
	footerNumTableKeysOff   = 0
	footerFilterOffsetOff   = 8
	footerIndexOffsetOff    = 16
	footerMinTableKeyOff    = 24
	footerMaxTableKeyOff    = footerMinTableKeyOff + keys.TableKeySize
	footerEncodedSize       = footerMaxTableKeyOff + keys.TableKeySize
)

// Footer is the final block of every SSTable file.
type Footer struct {
	NumTableKeys     uint64
	FilterBlockOff   uint64
	IndexBlockOff    uint64
	MinTableKey      keys.TableKey
	MaxTableKey      keys.TableKey
}

// Encode serializes the footer, zero-padded to Size.
func (f Footer) Encode() []byte {
	buf := make([]byte, Size)
	binary.LittleEndian.PutUint64(buf[footerNumTableKeysOff:], f.NumTableKeys)
	binary.LittleEndian.PutUint64(buf[footerFilterOffsetOff:], f.FilterBlockOff)
	binary.LittleEndian.PutUint64(buf[footerIndexOffsetOff:], f.IndexBlockOff)
	f.MinTableKey.EncodeInto(buf[footerMinTableKeyOff : footerMinTableKeyOff+keys.TableKeySize])
	f.MaxTableKey.EncodeInto(buf[footerMaxTableKeyOff : footerMaxTableKeyOff+keys.TableKeySize])
	return buf
}

// DecodeFooter parses a Size-byte footer block.
func DecodeFooter(buf []byte) (Footer, error) {
	if len(buf) < footerEncodedSize {
		return Footer{}, fmt.Errorf("block: short footer buffer: have %d, want at least %d", len(buf), footerEncodedSize)
	}
	minKey, err := keys.Decode(buf[footerMinTableKeyOff : footerMinTableKeyOff+keys.TableKeySize])
	if err != nil {
		return Footer{}, fmt.Errorf("block: decoding footer min table key: %w", err)
	}
	maxKey, err := keys.Decode(buf[footerMaxTableKeyOff : footerMaxTableKeyOff+keys.TableKeySize])
	if err != nil {
		return Footer{}, fmt.Errorf("block: decoding footer max table key: %w", err)
	}
	return Footer{
		NumTableKeys:   binary.LittleEndian.Uint64(buf[footerNumTableKeysOff:]),
		FilterBlockOff: binary.LittleEndian.Uint64(buf[footerFilterOffsetOff:]),
		IndexBlockOff:  binary.LittleEndian.Uint64(buf[footerIndexOffsetOff:]),
		MinTableKey:    minKey,
		MaxTableKey:    maxKey,
	}, nil
}

// NumDataBlocks computes the data-block count for n table keys.
func NumDataBlocks(numTableKeys int) int {
	if numTableKeys == 0 {
		return 0
	}
	return (numTableKeys + KeysPerBlock - 1) / KeysPerBlock
}

// FileSize computes the total SSTable file size for n table keys: data
// blocks plus filter, index, and footer blocks.
func FileSize(numTableKeys int) int64 {
	return int64(NumDataBlocks(numTableKeys)+3) * Size
}
