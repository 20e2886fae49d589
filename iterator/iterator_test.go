package iterator

import (
	"testing"

	"github.com/arjunkhera/lsmkv/keys"
	"github.com/stretchr/testify/require"
)

// sliceIter is a minimal TableKeyIterator over an already-sorted in-memory
// slice, used only to exercise the merge protocol in isolation.
type sliceIter struct {
	items []keys.TableKey
	pos   int
}

func newSliceIter(items ...keys.TableKey) *sliceIter {
	return &sliceIter{items: items, pos: -1}
}

func (s *sliceIter) Seek(lookup keys.LookupKey) error {
	target := lookup.AsTableKey()
	for i, tk := range s.items {
		if target.LessOrEqual(tk) {
			s.pos = i - 1
			return s.Next()
		}
	}
	s.pos = len(s.items)
	return nil
}

func (s *sliceIter) Next() error {
	if s.pos < len(s.items) {
		s.pos++
	}
	return nil
}

func (s *sliceIter) Curr() (keys.TableKey, bool) {
	if s.pos < 0 || s.pos >= len(s.items) {
		return keys.TableKey{}, false
	}
	return s.items[s.pos], true
}

func (s *sliceIter) Valid() bool {
	return s.pos >= 0 && s.pos < len(s.items)
}

func tk(u int32, seq uint64) keys.TableKey {
	return keys.New(keys.UserKey(u), keys.SeqNum(seq), keys.Put, keys.UserValue(u))
}

func drain(t *testing.T, it TableKeyIterator) []keys.TableKey {
	t.Helper()
	var out []keys.TableKey
	for it.Valid() {
		cur, ok := it.Curr()
		require.True(t, ok)
		out = append(out, cur)
		require.NoError(t, it.Next())
	}
	return out
}

func TestMergerOrdersAcrossSources(t *testing.T) {
	a := newSliceIter(tk(1, 1), tk(3, 1), tk(5, 1))
	b := newSliceIter(tk(2, 1), tk(4, 1))

	m, err := NewMerger([]TableKeyIterator{a, b})
	require.NoError(t, err)

	got := drain(t, m)
	require.Equal(t, []keys.TableKey{tk(1, 1), tk(2, 1), tk(3, 1), tk(4, 1), tk(5, 1)}, got)
}

func TestMergerNewestVersionFirstForSameUserKey(t *testing.T) {
	older := newSliceIter(tk(1, 1))
	newer := newSliceIter(tk(1, 2))

	m, err := NewMerger([]TableKeyIterator{older, newer})
	require.NoError(t, err)

	got := drain(t, m)
	require.Equal(t, []keys.TableKey{tk(1, 2), tk(1, 1)}, got)
}

func TestMergerEmptySourcesAreSkipped(t *testing.T) {
	empty := newSliceIter()
	present := newSliceIter(tk(1, 1))

	m, err := NewMerger([]TableKeyIterator{empty, present})
	require.NoError(t, err)
	require.True(t, m.Valid())
	require.Equal(t, []keys.TableKey{tk(1, 1)}, drain(t, m))
}

func TestMergerSeekRepositionsAllSources(t *testing.T) {
	a := newSliceIter(tk(1, 1), tk(3, 1), tk(5, 1))
	b := newSliceIter(tk(2, 1), tk(4, 1))

	m, err := NewMerger([]TableKeyIterator{a, b})
	require.NoError(t, err)

	require.NoError(t, m.Seek(keys.NewLookup(3, 10)))
	got := drain(t, m)
	require.Equal(t, []keys.TableKey{tk(3, 1), tk(4, 1), tk(5, 1)}, got)
}
