package engine

import (
	"fmt"
	"os"

	"github.com/arjunkhera/lsmkv/iterator"
	"github.com/arjunkhera/lsmkv/keys"
	"github.com/arjunkhera/lsmkv/level"
	"github.com/arjunkhera/lsmkv/run"
	"github.com/arjunkhera/lsmkv/sstable"
)

// minorCompaction flushes the current memtable to a fresh run in level 0:
// it streams the memtable in table-key order, keeping only the first
// (newest) table key per user key, cuts the stream into sstable_capacity
// sized files, and appends the resulting run. The caller (write) is
// responsible for resetting the memtable and WAL once this returns.
func (e *Engine) minorCompaction() error {
	it := e.mem.NewIterator()
	wb := sstable.NewWriterBatch(e.dataDir, e.cfg.SSTableCapacity, e.allocFileNum)

	var lastUserKey keys.UserKey
	hasLast := false
	for {
		if err := it.Next(); err != nil {
			return err
		}
		if !it.Valid() {
			break
		}
		cur, _ := it.Curr()
		if !hasLast || cur.UserKey != lastUserKey {
			if err := wb.Push(cur); err != nil {
				return err
			}
			lastUserKey = cur.UserKey
			hasLast = true
		}
	}

	tables, minKey, maxKey, ok, err := wb.Done()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	e.levels[0].AddRun(run.New(tables, minKey, maxKey))
	return nil
}

// checkLevelState walks levels 0..max_levels-1 in order, re-running major
// compaction on a level as many times as needed until it reports Normal
// before advancing to the next one: a level may exceed both its run and
// size capacity at once, or still be over capacity after a single
// compaction pass. It stops at max_levels; a vertical compaction may have
// created a deeper level than that, which simply won't be checked until
// it is itself within max_levels (an accepted limitation carried from the
// original design, not a bug to route around here).
func (e *Engine) checkLevelState() error {
	for i := 0; i < len(e.levels) && i < e.cfg.MaxLevels; i++ {
		lvl := e.levels[i]
		for lvl.State() != level.Normal {
			if err := e.majorCompaction(i); err != nil {
				return err
			}
			if err := e.persistManifest(); err != nil {
				return err
			}
		}
	}
	return nil
}

// majorCompaction picks a random base sstable within level levelIdx,
// collects every other sstable in the level whose user-key range
// overlaps the base's range as additional inputs, and branches to
// horizontal or vertical compaction depending on which capacity the
// level currently exceeds (spec.md §4.13.3; a run-count violation is
// handled in preference to a size violation, matching level.State's own
// preference order).
func (e *Engine) majorCompaction(levelIdx int) error {
	lvl := e.levels[levelIdx]

	baseRunIdx, baseSST := e.selectCompactionBase(lvl)
	baseMin, baseMax := baseSST.MinTableKey.UserKey, baseSST.MaxTableKey.UserKey

	inputs := []sstable.SSTable{baseSST}
	inputSet := map[keys.FileNum]bool{baseSST.FileNum: true}
	ctxMin, ctxMax := baseMin, baseMax

	for _, r := range lvl.Runs {
		for _, sst := range r.SSTables {
			if inputSet[sst.FileNum] {
				continue
			}
			if keys.RangesOverlap(sst.MinTableKey.UserKey, sst.MaxTableKey.UserKey, baseMin, baseMax) {
				inputs = append(inputs, sst)
				inputSet[sst.FileNum] = true
				if sst.MinTableKey.UserKey < ctxMin {
					ctxMin = sst.MinTableKey.UserKey
				}
				if sst.MaxTableKey.UserKey > ctxMax {
					ctxMax = sst.MaxTableKey.UserKey
				}
			}
		}
	}

	if lvl.State() == level.ExceedRunCapacity {
		return e.horizontalCompaction(levelIdx, baseRunIdx, inputs, inputSet)
	}
	return e.verticalCompaction(levelIdx, ctxMin, ctxMax, inputs, inputSet)
}

func (e *Engine) selectCompactionBase(lvl *level.Level) (runIdx int, base sstable.SSTable) {
	runIdx = e.rnd.Intn(len(lvl.Runs))
	r := lvl.Runs[runIdx]
	return runIdx, r.SSTables[e.rnd.Intn(len(r.SSTables))]
}

func (e *Engine) selectOtherRun(lvl *level.Level, excludeIdx int) (int, bool) {
	if len(lvl.Runs) < 2 {
		return 0, false
	}
	for {
		idx := e.rnd.Intn(len(lvl.Runs))
		if idx != excludeIdx {
			return idx, true
		}
	}
}

// horizontalCompaction resolves a run-count violation: it merges the
// base's overlap-selected inputs into a new run, then folds that new run
// together with the non-input members of a second, explicitly
// non-base run into one merged run that replaces both. Requiring the
// second run to differ from the base's own run (rather than letting a
// random draw land back on it, as the literal original allowed) is a
// deliberate correction — see DESIGN.md's Open Question decisions.
func (e *Engine) horizontalCompaction(levelIdx, baseRunIdx int, inputs []sstable.SSTable, inputSet map[keys.FileNum]bool) error {
	lvl := e.levels[levelIdx]

	newRunTables, newMin, newMax, hasNew, err := e.mergeSSTables(inputs)
	if err != nil {
		return err
	}

	obsolete := map[keys.FileNum]bool{}
	for fn := range inputSet {
		obsolete[fn] = true
	}

	finalTables := newRunTables
	finalMin, finalMax := newMin, newMax
	hasFinal := hasNew

	otherIdx, ok := e.selectOtherRun(lvl, baseRunIdx)
	if ok {
		pickedRun := lvl.Runs[otherIdx]
		for _, sst := range pickedRun.SSTables {
			obsolete[sst.FileNum] = true
		}
		for _, sst := range newRunTables {
			obsolete[sst.FileNum] = true
		}

		var nonInput []sstable.SSTable
		for _, sst := range pickedRun.SSTables {
			if !inputSet[sst.FileNum] {
				nonInput = append(nonInput, sst)
			}
		}

		mergeInputs := append(append([]sstable.SSTable{}, newRunTables...), nonInput...)
		mergedTables, mergedMin, mergedMax, hasMerged, err := e.mergeSSTables(mergeInputs)
		if err != nil {
			return err
		}
		finalTables, finalMin, finalMax, hasFinal = mergedTables, mergedMin, mergedMax, hasMerged
	}

	if hasFinal {
		lvl.AddRun(run.New(finalTables, finalMin, finalMax))
	}
	return e.removeObsoleteSSTables(obsolete)
}

// verticalCompaction resolves a size-capacity violation by promoting the
// base's overlap-selected inputs one level deeper: it creates level
// levelIdx+1 if it doesn't yet exist (with the same run_capacity and
// size_capacity scaled by the configured fanout), extends the input set
// with every sstable in that level whose range overlaps the expanded
// context range, merges everything into one new run, and appends it to
// the deeper level.
func (e *Engine) verticalCompaction(levelIdx int, ctxMin, ctxMax keys.UserKey, inputs []sstable.SSTable, inputSet map[keys.FileNum]bool) error {
	curr := e.levels[levelIdx]
	nextIdx := levelIdx + 1
	if nextIdx >= len(e.levels) {
		e.levels = append(e.levels, level.New(nextIdx, curr.RunCapacity, curr.SizeCapacity*int64(e.cfg.Fanout)))
	}
	nextLvl := e.levels[nextIdx]

	obsolete := map[keys.FileNum]bool{}
	for fn := range inputSet {
		obsolete[fn] = true
	}

	allInputs := append([]sstable.SSTable{}, inputs...)
	for _, r := range nextLvl.Runs {
		for _, sst := range r.SSTables {
			if obsolete[sst.FileNum] {
				continue
			}
			if keys.RangesOverlap(sst.MinTableKey.UserKey, sst.MaxTableKey.UserKey, ctxMin, ctxMax) {
				allInputs = append(allInputs, sst)
				obsolete[sst.FileNum] = true
			}
		}
	}

	mergedTables, mergedMin, mergedMax, hasMerged, err := e.mergeSSTables(allInputs)
	if err != nil {
		return err
	}
	if hasMerged {
		nextLvl.AddRun(run.New(mergedTables, mergedMin, mergedMax))
	}
	return e.removeObsoleteSSTables(obsolete)
}

// mergeSSTables heap-merges a set of sealed sstables (opened fresh,
// closed before returning) into a new size-capped run, keeping only the
// first (highest table-key rank, i.e. newest) record per user key. This
// streaming dedup runs uniformly at every level depth, including the
// bottom one — see DESIGN.md's Open Question decisions for why a
// depth-aware tombstone retention policy was not adopted.
func (e *Engine) mergeSSTables(inputs []sstable.SSTable) (tables []sstable.SSTable, minKey, maxKey keys.TableKey, ok bool, err error) {
	if len(inputs) == 0 {
		return nil, keys.TableKey{}, keys.TableKey{}, false, nil
	}

	readers := make([]*sstable.Reader, 0, len(inputs))
	sources := make([]iterator.TableKeyIterator, 0, len(inputs))
	defer func() {
		for _, r := range readers {
			r.Close()
		}
	}()

	for _, sst := range inputs {
		r, oerr := sstable.Open(e.dataDir, sst.FileNum)
		if oerr != nil {
			return nil, keys.TableKey{}, keys.TableKey{}, false, oerr
		}
		readers = append(readers, r)
		sources = append(sources, r.NewIterator())
	}

	merger, merr := iterator.NewMerger(sources)
	if merr != nil {
		return nil, keys.TableKey{}, keys.TableKey{}, false, merr
	}

	wb := sstable.NewWriterBatch(e.dataDir, e.cfg.SSTableCapacity, e.allocFileNum)
	var lastUserKey keys.UserKey
	hasLast := false
	for merger.Valid() {
		cur, _ := merger.Curr()
		if !hasLast || cur.UserKey != lastUserKey {
			if perr := wb.Push(cur); perr != nil {
				return nil, keys.TableKey{}, keys.TableKey{}, false, perr
			}
			lastUserKey = cur.UserKey
			hasLast = true
		}
		if nerr := merger.Next(); nerr != nil {
			return nil, keys.TableKey{}, keys.TableKey{}, false, nerr
		}
	}
	return wb.Done()
}

// removeObsoleteSSTables strips every obsolete file number from every
// run in every level, drops any run left empty, refreshes each touched
// level's declared key range, and deletes the now-unreferenced files
// from disk.
func (e *Engine) removeObsoleteSSTables(obsolete map[keys.FileNum]bool) error {
	for _, lvl := range e.levels {
		kept := lvl.Runs[:0]
		for _, r := range lvl.Runs {
			if empty := r.RemoveFileNums(obsolete); !empty {
				kept = append(kept, r)
			}
		}
		lvl.Runs = kept
		lvl.RefreshKeyRange()
	}
	for fn := range obsolete {
		if err := os.Remove(sstable.Path(e.dataDir, fn)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("engine: removing obsolete sstable %d: %w", fn, err)
		}
	}
	return nil
}
