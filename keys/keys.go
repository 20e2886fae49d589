// Package keys defines the on-disk and in-memory key representations shared
// by every other package in lsmkv: the fixed-width user key/value domain,
// the table key (the unit of storage and merging), and the lookup key used
// to query at a snapshot sequence number.
package keys

import (
	"encoding/binary"
	"fmt"
)

// UserKey and UserValue are the fixed 32-bit signed schema the engine
// supports. There are no variable-length keys or values.
type UserKey int32

// UserValue is the value half of a user entry. Tombstones carry UserValue(0)
// and it must not be interpreted by callers.
type UserValue int32

// SeqNum is a monotonically increasing, engine-wide write counter. It is
// never reused.
type SeqNum uint64

// FileNum identifies an SSTable file on disk.
type FileNum uint64

// WriteType distinguishes a live write from a tombstone. Empty is a sentinel
// that only ever appears inside a LookupKey's table-key projection; it must
// never be encoded to disk.
type WriteType uint8

const (
	Put WriteType = iota
	Delete
	Empty
)

func (w WriteType) String() string {
	switch w {
	case Put:
		return "P"
	case Delete:
		return "D"
	default:
		return "NaN"
	}
}

const (
	userKeySize   = 4
	seqNumSize    = 8
	writeTypeSize = 1
	userValSize   = 4
	// TableKeySize is the fixed on-disk width of an encoded TableKey.
	TableKeySize = userKeySize + seqNumSize + writeTypeSize + userValSize
)

// UserEntry is a decoded (key, value) pair as returned by Get/Range.
type UserEntry struct {
	Key UserKey
	Val UserValue
}

// TableKey is the unit of storage: a user key, the sequence number at which
// it was written, its write type, and (for Puts) its value.
type TableKey struct {
	UserKey   UserKey
	SeqNum    SeqNum
	WriteType WriteType
	UserVal   UserValue
}

// New builds a table key ready for a memtable insert.
func New(userKey UserKey, seqNum SeqNum, writeType WriteType, userVal UserValue) TableKey {
	return TableKey{UserKey: userKey, SeqNum: seqNum, WriteType: writeType, UserVal: userVal}
}

// Equal implements the table-key equality used by the spec: identity is
// (UserKey, SeqNum) only, ignoring WriteType and UserVal.
func (k TableKey) Equal(other TableKey) bool {
	return k.UserKey == other.UserKey && k.SeqNum == other.SeqNum
}

// Less implements the total table-key order: ascending by UserKey, then
// descending by SeqNum so that, for a fixed UserKey, the newest version
// sorts first. The iterator merge (package iterator) orders its min-heap
// by this same method, so the heap's top is always the smallest table key.
func (k TableKey) Less(other TableKey) bool {
	if k.UserKey != other.UserKey {
		return k.UserKey < other.UserKey
	}
	return k.SeqNum > other.SeqNum
}

// Compare returns -1, 0, or 1 following the table-key order above.
func (k TableKey) Compare(other TableKey) int {
	switch {
	case k.Less(other):
		return -1
	case other.Less(k):
		return 1
	default:
		return 0
	}
}

// LessOrEqual reports whether k sorts at or before other in table-key order.
func (k TableKey) LessOrEqual(other TableKey) bool {
	return !other.Less(k)
}

// Encode writes the fixed TableKeySize encoding of k.
func (k TableKey) Encode() []byte {
	buf := make([]byte, TableKeySize)
	k.EncodeInto(buf)
	return buf
}

// EncodeInto writes k's encoding into buf, which must be at least
// TableKeySize bytes.
func (k TableKey) EncodeInto(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(k.UserKey))
	binary.LittleEndian.PutUint64(buf[4:12], uint64(k.SeqNum))
	buf[12] = byte(k.WriteType)
	binary.LittleEndian.PutUint32(buf[13:17], uint32(k.UserVal))
}

// ErrCorrupt is returned when a byte slice cannot be decoded into a
// well-formed TableKey.
type ErrCorrupt struct {
	Reason string
}

func (e *ErrCorrupt) Error() string {
	return fmt.Sprintf("corrupt table key: %s", e.Reason)
}

// Decode parses a TableKeySize-byte slice. WriteType must be Put or Delete;
// Empty never appears on disk and is treated as corruption.
func Decode(buf []byte) (TableKey, error) {
	if len(buf) < TableKeySize {
		return TableKey{}, &ErrCorrupt{Reason: fmt.Sprintf("short buffer: have %d bytes, want %d", len(buf), TableKeySize)}
	}
	wt := WriteType(buf[12])
	if wt != Put && wt != Delete {
		return TableKey{}, &ErrCorrupt{Reason: fmt.Sprintf("illegal write type byte %d", buf[12])}
	}
	return TableKey{
		UserKey:   UserKey(binary.LittleEndian.Uint32(buf[0:4])),
		SeqNum:    SeqNum(binary.LittleEndian.Uint64(buf[4:12])),
		WriteType: wt,
		UserVal:   UserValue(binary.LittleEndian.Uint32(buf[13:17])),
	}, nil
}

// LookupKey bounds the visibility of a read: the user key being sought and
// the snapshot sequence number at which to read it.
type LookupKey struct {
	UserKey UserKey
	SeqNum  SeqNum
}

// NewLookup builds a lookup key for a point or range read.
func NewLookup(userKey UserKey, seqNum SeqNum) LookupKey {
	return LookupKey{UserKey: userKey, SeqNum: seqNum}
}

// AsTableKey projects a lookup key into table-key space so it can be
// compared against real table keys. WriteType is Empty and UserVal is zero;
// this projection must never be persisted.
func (l LookupKey) AsTableKey() TableKey {
	return TableKey{UserKey: l.UserKey, SeqNum: l.SeqNum, WriteType: Empty, UserVal: 0}
}

// EncodeUserKey returns the fixed 4-byte little-endian encoding of a user
// key, used as the hash input for bloom filter membership tests.
func EncodeUserKey(k UserKey) []byte {
	buf := make([]byte, userKeySize)
	binary.LittleEndian.PutUint32(buf, uint32(k))
	return buf
}

// RangesOverlap implements the compaction overlap predicate: two closed
// user-key intervals overlap if either endpoint of one lies within the
// other, or one contains the other.
func RangesOverlap(aMin, aMax, bMin, bMax UserKey) bool {
	return aMin <= bMax && bMin <= aMax
}
