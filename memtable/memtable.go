// Package memtable implements the in-memory write buffer: an ordered
// skip list of table keys, the same algorithm FlashLogGo's generic
// skip list uses (coin-flip levels, forward pointers per level), adapted
// to a struct key compared by keys.TableKey.Less rather than Go's
// built-in ordered constraint.
package memtable

import (
	"math/rand"

	"github.com/arjunkhera/lsmkv/iterator"
	"github.com/arjunkhera/lsmkv/keys"
)

const (
	maxLevel = 32
	p        = 0.25
)

type node struct {
	key     keys.TableKey
	forward []*node
}

// Memtable is an ordered, duplicate-free container of table keys. A
// duplicate (user_key, seq_num) insert is a fatal invariant violation: the
// engine's monotonic sequence-number allocator is supposed to make this
// impossible, so Put panics rather than silently overwriting.
type Memtable struct {
	head  *node
	level int
	count int
	rnd   *rand.Rand
}

// New returns an empty memtable.
func New() *Memtable {
	return &Memtable{
		head:  &node{forward: make([]*node, maxLevel)},
		level: 1,
		rnd:   rand.New(rand.NewSource(rand.Int63())),
	}
}

func (m *Memtable) randomLevel() int {
	lvl := 1
	for lvl < maxLevel && m.rnd.Float64() < p {
		lvl++
	}
	return lvl
}

// Put inserts a table key in order.
func (m *Memtable) Put(tk keys.TableKey) {
	update := make([]*node, maxLevel)
	cur := m.head
	for lvl := m.level - 1; lvl >= 0; lvl-- {
		for cur.forward[lvl] != nil && cur.forward[lvl].key.Less(tk) {
			cur = cur.forward[lvl]
		}
		update[lvl] = cur
	}

	if next := cur.forward[0]; next != nil && next.key.Equal(tk) {
		panic("memtable: duplicate (user_key, seq_num) insert")
	}

	lvl := m.randomLevel()
	if lvl > m.level {
		for l := m.level; l < lvl; l++ {
			update[l] = m.head
		}
		m.level = lvl
	}

	n := &node{key: tk, forward: make([]*node, lvl)}
	for l := 0; l < lvl; l++ {
		n.forward[l] = update[l].forward[l]
		update[l].forward[l] = n
	}
	m.count++
}

// seekNode returns the first node whose key is not less than target, i.e.
// the lower bound under table-key order.
func (m *Memtable) seekNode(target keys.TableKey) *node {
	cur := m.head
	for lvl := m.level - 1; lvl >= 0; lvl-- {
		for cur.forward[lvl] != nil && cur.forward[lvl].key.Less(target) {
			cur = cur.forward[lvl]
		}
	}
	return cur.forward[0]
}

// Get positions a cursor at the first table key at or after lookup (under
// table-key order). If that key's user_key matches, it returns the value
// and whether the entry is a tombstone; the tombstone flag is
// authoritative and callers must stop searching deeper sources once it is
// true. If no matching user_key is found, it returns (nil, false).
func (m *Memtable) Get(lookup keys.LookupKey) (*keys.UserValue, bool) {
	candidate := m.seekNode(lookup.AsTableKey())
	if candidate == nil || candidate.key.UserKey != lookup.UserKey {
		return nil, false
	}
	v := candidate.key.UserVal
	return &v, candidate.key.WriteType == keys.Delete
}

// Size reports the memtable's logical byte size: count times the fixed
// table-key width.
func (m *Memtable) Size() int64 {
	return int64(m.count) * keys.TableKeySize
}

// Count reports the number of table keys currently held.
func (m *Memtable) Count() int {
	return m.count
}

// Iterator is a pull-based cursor over the memtable's table keys in
// ascending table-key order. It satisfies iterator.TableKeyIterator.
type Iterator struct {
	m       *Memtable
	cur     *node
	started bool
}

var _ iterator.TableKeyIterator = (*Iterator)(nil)

// NewIterator returns a fresh cursor over m.
func (m *Memtable) NewIterator() *Iterator {
	return &Iterator{m: m}
}

// Seek positions the cursor at the first table key at or after lookup.
func (it *Iterator) Seek(lookup keys.LookupKey) error {
	it.cur = it.m.seekNode(lookup.AsTableKey())
	it.started = true
	return nil
}

// Next advances to the next table key; the first call lands on the
// smallest table key in the memtable, if any.
func (it *Iterator) Next() error {
	if !it.started {
		it.cur = it.m.head.forward[0]
		it.started = true
		return nil
	}
	if it.cur != nil {
		it.cur = it.cur.forward[0]
	}
	return nil
}

// Curr returns the table key at the current cursor position.
func (it *Iterator) Curr() (keys.TableKey, bool) {
	if it.cur == nil {
		return keys.TableKey{}, false
	}
	return it.cur.key, true
}

// Valid reports whether Curr currently holds a table key.
func (it *Iterator) Valid() bool {
	return it.cur != nil
}
