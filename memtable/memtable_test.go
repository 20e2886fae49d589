package memtable

import (
	"testing"

	"github.com/arjunkhera/lsmkv/keys"
	"github.com/stretchr/testify/require"
)

func TestPutThenGetReturnsValue(t *testing.T) {
	m := New()
	m.Put(keys.New(5, 1, keys.Put, 42))

	v, deleted := m.Get(keys.NewLookup(5, 10))
	require.NotNil(t, v)
	require.Equal(t, keys.UserValue(42), *v)
	require.False(t, deleted)
}

func TestGetMissingKeyReturnsNil(t *testing.T) {
	m := New()
	m.Put(keys.New(1, 1, keys.Put, 1))

	v, deleted := m.Get(keys.NewLookup(2, 10))
	require.Nil(t, v)
	require.False(t, deleted)
}

func TestGetReportsTombstone(t *testing.T) {
	m := New()
	m.Put(keys.New(5, 1, keys.Put, 1))
	m.Put(keys.New(5, 2, keys.Delete, 0))

	v, deleted := m.Get(keys.NewLookup(5, 10))
	require.NotNil(t, v)
	require.True(t, deleted)
}

func TestNewerVersionWinsOnLookup(t *testing.T) {
	m := New()
	m.Put(keys.New(5, 1, keys.Put, 100))
	m.Put(keys.New(5, 2, keys.Put, 200))

	v, deleted := m.Get(keys.NewLookup(5, 10))
	require.False(t, deleted)
	require.Equal(t, keys.UserValue(200), *v)
}

func TestDuplicateSeqNumInsertPanics(t *testing.T) {
	m := New()
	m.Put(keys.New(5, 1, keys.Put, 1))
	require.Panics(t, func() {
		m.Put(keys.New(5, 1, keys.Put, 2))
	})
}

func TestIteratorYieldsTableKeyOrder(t *testing.T) {
	m := New()
	m.Put(keys.New(3, 1, keys.Put, 0))
	m.Put(keys.New(1, 1, keys.Put, 0))
	m.Put(keys.New(2, 2, keys.Put, 0))
	m.Put(keys.New(2, 1, keys.Put, 0))

	it := m.NewIterator()
	var got []keys.TableKey
	for {
		require.NoError(t, it.Next())
		if !it.Valid() {
			break
		}
		cur, ok := it.Curr()
		require.True(t, ok)
		got = append(got, cur)
	}

	require.Len(t, got, 4)
	for i := 1; i < len(got); i++ {
		require.True(t, got[i-1].Less(got[i]), "iterator must yield strict table-key order")
	}
}

func TestSizeTracksCount(t *testing.T) {
	m := New()
	require.Equal(t, int64(0), m.Size())
	m.Put(keys.New(1, 1, keys.Put, 0))
	m.Put(keys.New(2, 1, keys.Put, 0))
	require.Equal(t, int64(2*keys.TableKeySize), m.Size())
}
