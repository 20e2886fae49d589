// Package run implements a run: an ordered, non-overlapping collection of
// SSTables, binary-searchable by user key range.
package run

import (
	"sort"

	"github.com/arjunkhera/lsmkv/iterator"
	"github.com/arjunkhera/lsmkv/keys"
	"github.com/arjunkhera/lsmkv/sstable"
)

// Run is a sequence of SSTables with pairwise disjoint key ranges, sorted
// by min_user_key.
type Run struct {
	SSTables    []sstable.SSTable
	MinTableKey keys.TableKey
	MaxTableKey keys.TableKey
}

// New builds a run from a set of sealed, non-overlapping SSTables (as
// produced by an sstable.WriterBatch), sorting them by min user key.
func New(tables []sstable.SSTable, minKey, maxKey keys.TableKey) *Run {
	sorted := append([]sstable.SSTable(nil), tables...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].MinTableKey.UserKey < sorted[j].MinTableKey.UserKey
	})
	return &Run{SSTables: sorted, MinTableKey: minKey, MaxTableKey: maxKey}
}

// UserKeyRange reports the run's declared min and max user key.
func (r *Run) UserKeyRange() (keys.UserKey, keys.UserKey) {
	return r.MinTableKey.UserKey, r.MaxTableKey.UserKey
}

// Size sums the on-disk size of every member SSTable.
func (r *Run) Size() int64 {
	var total int64
	for _, sst := range r.SSTables {
		total += sst.FileSize
	}
	return total
}

// Lookup looks up a key: if it falls within the run's declared range,
// binary searches for the one SSTable whose range could contain it (on
// max_table_key.user_key, a lower-bound search), verifies the candidate
// actually covers the key, and delegates to it. It returns the full
// matched table key so that callers comparing candidates across several
// overlapping runs (package level) can rank them by recency.
func (r *Run) Lookup(dataDir string, lookup keys.LookupKey) (keys.TableKey, bool, error) {
	if len(r.SSTables) == 0 {
		return keys.TableKey{}, false, nil
	}
	minUK, maxUK := r.UserKeyRange()
	if lookup.UserKey < minUK || lookup.UserKey > maxUK {
		return keys.TableKey{}, false, nil
	}

	idx := sort.Search(len(r.SSTables), func(i int) bool {
		return r.SSTables[i].MaxTableKey.UserKey >= lookup.UserKey
	})
	if idx == len(r.SSTables) {
		return keys.TableKey{}, false, nil
	}
	cand := r.SSTables[idx]
	if lookup.UserKey < cand.MinTableKey.UserKey || lookup.UserKey > cand.MaxTableKey.UserKey {
		return keys.TableKey{}, false, nil
	}

	reader, err := sstable.Open(dataDir, cand.FileNum)
	if err != nil {
		return keys.TableKey{}, false, err
	}
	defer reader.Close()

	it := reader.NewIterator()
	if err := it.Seek(lookup); err != nil {
		return keys.TableKey{}, false, err
	}
	if !it.Valid() {
		return keys.TableKey{}, false, nil
	}
	cur, _ := it.Curr()
	if cur.UserKey != lookup.UserKey {
		return keys.TableKey{}, false, nil
	}
	return cur, true, nil
}

// Get is Lookup's value/tombstone projection, for callers that only need
// this one run's answer rather than the full table key.
func (r *Run) Get(dataDir string, lookup keys.LookupKey) (*keys.UserValue, bool, error) {
	tk, found, err := r.Lookup(dataDir, lookup)
	if err != nil || !found {
		return nil, false, err
	}
	v := tk.UserVal
	return &v, tk.WriteType == keys.Delete, nil
}

// RemoveFileNums drops any member SSTable whose file number is in
// obsolete, recomputing the run's key range from what remains. It reports
// whether the run is now empty, in which case the caller should drop it
// from its level.
func (r *Run) RemoveFileNums(obsolete map[keys.FileNum]bool) (empty bool) {
	kept := r.SSTables[:0]
	for _, sst := range r.SSTables {
		if !obsolete[sst.FileNum] {
			kept = append(kept, sst)
		}
	}
	r.SSTables = kept
	if len(kept) == 0 {
		return true
	}
	r.refreshKeyRange()
	return false
}

func (r *Run) refreshKeyRange() {
	r.MinTableKey = r.SSTables[0].MinTableKey
	r.MaxTableKey = r.SSTables[0].MaxTableKey
	for _, sst := range r.SSTables[1:] {
		if sst.MinTableKey.Less(r.MinTableKey) {
			r.MinTableKey = sst.MinTableKey
		}
		if r.MaxTableKey.Less(sst.MaxTableKey) {
			r.MaxTableKey = sst.MaxTableKey
		}
	}
}

// Iterator concatenates the run's member SSTable iterators in order,
// since a run's members are already disjoint and sorted: no heap merge is
// needed, unlike at the level or engine scope. It satisfies
// iterator.TableKeyIterator. Close must be called once the caller is done
// with it, to release any currently-open SSTable file handle.
type Iterator struct {
	dataDir  string
	sstables []sstable.SSTable

	idx    int
	reader *sstable.Reader
	sub    *sstable.Iterator
	curKey keys.TableKey
	valid  bool
}

var _ iterator.TableKeyIterator = (*Iterator)(nil)

// NewIterator returns a fresh cursor over r's member SSTables, in order.
func (r *Run) NewIterator(dataDir string) *Iterator {
	return &Iterator{dataDir: dataDir, sstables: r.SSTables}
}

func (it *Iterator) closeSub() {
	if it.reader != nil {
		it.reader.Close()
		it.reader = nil
	}
	it.sub = nil
}

// Close releases any currently-open SSTable file handle.
func (it *Iterator) Close() error {
	if it.reader != nil {
		err := it.reader.Close()
		it.reader = nil
		it.sub = nil
		return err
	}
	return nil
}

// Next advances to the next table key across the concatenated SSTables,
// opening and closing member files as it crosses boundaries.
func (it *Iterator) Next() error {
	for {
		if it.sub == nil {
			if it.idx >= len(it.sstables) {
				it.valid = false
				return nil
			}
			reader, err := sstable.Open(it.dataDir, it.sstables[it.idx].FileNum)
			if err != nil {
				return err
			}
			it.reader = reader
			it.sub = reader.NewIterator()
		}
		if err := it.sub.Next(); err != nil {
			return err
		}
		if it.sub.Valid() {
			it.curKey, _ = it.sub.Curr()
			it.valid = true
			return nil
		}
		it.closeSub()
		it.idx++
	}
}

// Seek positions the cursor at the first table key at or after lookup.
// Unlike sstable.Iterator.Seek, this is not bloom-gated: it is a generic
// cursor positioning operation, not a point-existence check, so it scans
// forward from the first SSTable that could hold lookup's user key rather
// than trusting a single file's filter.
func (it *Iterator) Seek(lookup keys.LookupKey) error {
	it.closeSub()
	it.idx = sort.Search(len(it.sstables), func(i int) bool {
		return it.sstables[i].MaxTableKey.UserKey >= lookup.UserKey
	})
	it.valid = false

	target := lookup.AsTableKey()
	for {
		if err := it.Next(); err != nil {
			return err
		}
		if !it.valid {
			return nil
		}
		if target.LessOrEqual(it.curKey) {
			return nil
		}
	}
}

// Curr returns the table key at the current cursor position.
func (it *Iterator) Curr() (keys.TableKey, bool) {
	if !it.valid {
		return keys.TableKey{}, false
	}
	return it.curKey, true
}

// Valid reports whether Curr currently holds a table key.
func (it *Iterator) Valid() bool {
	return it.valid
}
