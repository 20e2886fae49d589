// Package level implements a level: a collection of runs governed by a
// run-count and size-capacity policy, with overlap-tolerant reads across
// its member runs.
package level

import (
	"github.com/arjunkhera/lsmkv/iterator"
	"github.com/arjunkhera/lsmkv/keys"
	"github.com/arjunkhera/lsmkv/run"
)

// State classifies a level's current occupancy against its capacities.
type State int

const (
	Normal State = iota
	ExceedSizeCapacity
	ExceedRunCapacity
)

func (s State) String() string {
	switch s {
	case Normal:
		return "normal"
	case ExceedSizeCapacity:
		return "exceed-size-capacity"
	case ExceedRunCapacity:
		return "exceed-run-capacity"
	default:
		return "unknown"
	}
}

// Level holds an ordered list of runs. Unlike a run's members, a level's
// runs may overlap in key range: that's exactly what a read must account
// for, and what major compaction exists to bound.
type Level struct {
	LevelNum     int
	Runs         []*run.Run
	RunCapacity  int
	SizeCapacity int64
	MinTableKey  keys.TableKey
	MaxTableKey  keys.TableKey
	hasRange     bool
}

// New creates an empty level with the given capacities.
func New(levelNum, runCapacity int, sizeCapacity int64) *Level {
	return &Level{LevelNum: levelNum, RunCapacity: runCapacity, SizeCapacity: sizeCapacity}
}

// Size sums every member run's size.
func (l *Level) Size() int64 {
	var total int64
	for _, r := range l.Runs {
		total += r.Size()
	}
	return total
}

// State reports the level's capacity state. A run-count violation is
// checked before a size violation and reported in preference to it when
// both hold simultaneously, matching the original engine's literal
// (if under-engineered) preference for horizontal over vertical
// compaction in that case.
func (l *Level) State() State {
	if len(l.Runs) > l.RunCapacity {
		return ExceedRunCapacity
	}
	if l.Size() > l.SizeCapacity {
		return ExceedSizeCapacity
	}
	return Normal
}

// AddRun appends a run to the level and refreshes the level's declared
// key range.
func (l *Level) AddRun(r *run.Run) {
	l.Runs = append(l.Runs, r)
	if !l.hasRange {
		l.MinTableKey, l.MaxTableKey = r.MinTableKey, r.MaxTableKey
		l.hasRange = true
		return
	}
	if r.MinTableKey.Less(l.MinTableKey) {
		l.MinTableKey = r.MinTableKey
	}
	if l.MaxTableKey.Less(r.MaxTableKey) {
		l.MaxTableKey = r.MaxTableKey
	}
}

// RefreshKeyRange recomputes the level's declared key range from its
// current runs. Callers must call this after mutating a run's own range
// (e.g. after RemoveFileNums) or after dropping empty runs.
func (l *Level) RefreshKeyRange() {
	l.hasRange = false
	for _, r := range l.Runs {
		if !l.hasRange {
			l.MinTableKey, l.MaxTableKey = r.MinTableKey, r.MaxTableKey
			l.hasRange = true
			continue
		}
		if r.MinTableKey.Less(l.MinTableKey) {
			l.MinTableKey = r.MinTableKey
		}
		if l.MaxTableKey.Less(r.MaxTableKey) {
			l.MaxTableKey = r.MaxTableKey
		}
	}
}

// Get collects the matching table key from every run whose range could
// hold lookup's user key (runs may overlap, so more than one can
// answer), and returns the value and tombstone flag of whichever
// candidate has the highest table-key rank (the newest version). A true
// tombstone flag shadows anything in a deeper level.
func (l *Level) Get(dataDir string, lookup keys.LookupKey) (*keys.UserValue, bool, error) {
	var best keys.TableKey
	haveBest := false

	for _, r := range l.Runs {
		minUK, maxUK := r.UserKeyRange()
		if lookup.UserKey < minUK || lookup.UserKey > maxUK {
			continue
		}
		tk, found, err := r.Lookup(dataDir, lookup)
		if err != nil {
			return nil, false, err
		}
		if !found {
			continue
		}
		if !haveBest || tk.Less(best) {
			best = tk
			haveBest = true
		}
	}
	if !haveBest {
		return nil, false, nil
	}
	v := best.UserVal
	return &v, best.WriteType == keys.Delete, nil
}

// Iterator heap-merges every run's iterator, deduplicating so only the
// first (highest-priority) table key for each user key is emitted: a
// scan reader must see a single logical value per user key per level,
// even though the level's runs may overlap. It satisfies
// iterator.TableKeyIterator. Close must be called once the caller is
// done with it.
type Iterator struct {
	runIters []*run.Iterator
	merger   *iterator.Merger
	curKey   keys.TableKey
	valid    bool
	started  bool
}

var _ iterator.TableKeyIterator = (*Iterator)(nil)

// NewIterator returns a fresh, deduplicating cursor over every run in l.
func (l *Level) NewIterator(dataDir string) (*Iterator, error) {
	runIters := make([]*run.Iterator, len(l.Runs))
	sources := make([]iterator.TableKeyIterator, len(l.Runs))
	for i, r := range l.Runs {
		ri := r.NewIterator(dataDir)
		runIters[i] = ri
		sources[i] = ri
	}
	m, err := iterator.NewMerger(sources)
	if err != nil {
		return nil, err
	}
	return &Iterator{runIters: runIters, merger: m}, nil
}

// Close releases every member run iterator's open file handle.
func (it *Iterator) Close() error {
	var firstErr error
	for _, ri := range it.runIters {
		if err := ri.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (it *Iterator) advanceToNextUnique() error {
	for it.merger.Valid() {
		cur, _ := it.merger.Curr()
		if it.valid && cur.UserKey == it.curKey.UserKey {
			if err := it.merger.Next(); err != nil {
				return err
			}
			continue
		}
		it.curKey = cur
		it.valid = true
		return nil
	}
	it.valid = false
	return nil
}

// Next advances to the next distinct user key in merged order. The
// merger underlying it is already primed at construction (per the merge
// protocol's one-Next-per-source priming step), so the first call here
// exposes that already-computed head rather than advancing past it.
func (it *Iterator) Next() error {
	if !it.started {
		it.started = true
		return it.advanceToNextUnique()
	}
	if err := it.merger.Next(); err != nil {
		return err
	}
	return it.advanceToNextUnique()
}

// Seek repositions every run iterator at lookup and resumes deduplicated
// merging from there.
func (it *Iterator) Seek(lookup keys.LookupKey) error {
	if err := it.merger.Seek(lookup); err != nil {
		return err
	}
	it.started = true
	it.valid = false
	return it.advanceToNextUnique()
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
