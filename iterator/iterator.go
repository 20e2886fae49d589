// Package iterator defines the pull-based table-key cursor protocol shared
// by SSTable readers, runs, levels, and the memtable, plus the heap merge
// that drives range scans and compaction.
package iterator

import (
	"container/heap"

	"github.com/arjunkhera/lsmkv/keys"
)

// TableKeyIterator is the cursor protocol every source of table keys
// implements. Before the first Next or Seek call, Valid reports false.
// Next advances one step (the first call lands on the first element, if
// any); Seek jumps directly to the first table key at or after lookup's
// projection. Implementations are pull-based: there are no generators or
// background goroutines behind this interface.
type TableKeyIterator interface {
	Seek(lookup keys.LookupKey) error
	Next() error
	Curr() (keys.TableKey, bool)
	Valid() bool
}

// heapSlice orders live iterators by their current heads in table-key
// order. container/heap is a min-heap, so ordering by keys.TableKey.Less
// directly puts the smallest table key (smallest user_key, then largest
// seq_num) at the top of the heap; only a max-heap would need the
// comparator reversed. Confusing the two is the single easiest bug to
// introduce in a heap merge.
type heapSlice []TableKeyIterator

func (h heapSlice) Len() int { return len(h) }

func (h heapSlice) Less(i, j int) bool {
	ci, _ := h[i].Curr()
	cj, _ := h[j].Curr()
	return ci.Less(cj)
}

func (h heapSlice) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *heapSlice) Push(x any) { *h = append(*h, x.(TableKeyIterator)) }

func (h *heapSlice) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Merger merges a fixed set of TableKeyIterator sources into a single
// stream in ascending table-key order, via a min-over-heap keyed by each
// source's current head. It satisfies TableKeyIterator, but unlike the
// other implementations it is already positioned on its first head once
// NewMerger returns, so a first Next moves past that head. A level merges
// its run iterators through one (see level.Iterator); a run concatenates
// its SSTable iterators without a merge.
type Merger struct {
	sources []TableKeyIterator
	h       heapSlice
}

// NewMerger builds a merger over sources. Per the merge protocol, every
// source is primed with one Next call before the heap is built.
func NewMerger(sources []TableKeyIterator) (*Merger, error) {
	m := &Merger{sources: sources}
	if err := m.prime(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Merger) prime() error {
	m.h = m.h[:0]
	for _, src := range m.sources {
		if err := src.Next(); err != nil {
			return err
		}
		if src.Valid() {
			m.h = append(m.h, src)
		}
	}
	heap.Init(&m.h)
	return nil
}

// Seek repositions every source at lookup and rebuilds the heap. Unlike
// Next-priming, a seek leaves each source already positioned, so sources
// are pushed onto the heap directly rather than primed with an extra Next.
func (m *Merger) Seek(lookup keys.LookupKey) error {
	m.h = m.h[:0]
	for _, src := range m.sources {
		if err := src.Seek(lookup); err != nil {
			return err
		}
		if src.Valid() {
			m.h = append(m.h, src)
		}
	}
	heap.Init(&m.h)
	return nil
}

// Next advances the source at the top of the heap by one step and
// restores the heap invariant.
func (m *Merger) Next() error {
	if len(m.h) == 0 {
		return nil
	}
	top := m.h[0]
	if err := top.Next(); err != nil {
		return err
	}
	if top.Valid() {
		heap.Fix(&m.h, 0)
	} else {
		heap.Pop(&m.h)
	}
	return nil
}

// Curr returns the table key currently at the top of the heap.
func (m *Merger) Curr() (keys.TableKey, bool) {
	if len(m.h) == 0 {
		return keys.TableKey{}, false
	}
	return m.h[0].Curr()
}

// Valid reports whether any source still has a live head.
func (m *Merger) Valid() bool {
	return len(m.h) > 0
}
