package keys

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOrderingNewestFirst(t *testing.T) {
	older := New(5, 1, Put, 10)
	newer := New(5, 2, Put, 20)

	require.True(t, newer.Less(older), "higher seq_num for the same user key must sort first")
	require.False(t, older.Less(newer))
}

func TestOrderingByUserKey(t *testing.T) {
	a := New(1, 100, Put, 0)
	b := New(2, 1, Put, 0)

	require.True(t, a.Less(b))
}

func TestEqualityIgnoresWriteTypeAndValue(t *testing.T) {
	a := New(1, 1, Put, 10)
	b := New(1, 1, Delete, 999)

	require.True(t, a.Equal(b))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	original := New(-42, 12345, Delete, 777)
	decoded, err := Decode(original.Encode())
	require.NoError(t, err)
	require.Equal(t, original, decoded)
}

func TestDecodeRejectsShortBuffer(t *testing.T) {
	_, err := Decode(make([]byte, TableKeySize-1))
	require.Error(t, err)
}

func TestDecodeRejectsEmptyWriteType(t *testing.T) {
	buf := New(1, 1, Put, 1).Encode()
	buf[12] = byte(Empty)
	_, err := Decode(buf)
	require.Error(t, err)
}

func TestRangesOverlap(t *testing.T) {
	require.True(t, RangesOverlap(0, 10, 5, 15))
	require.True(t, RangesOverlap(0, 10, 10, 20))
	require.True(t, RangesOverlap(0, 20, 5, 10))
	require.False(t, RangesOverlap(0, 10, 11, 20))
}

func TestLookupKeyProjection(t *testing.T) {
	lk := NewLookup(7, 99)
	tk := lk.AsTableKey()
	require.Equal(t, UserKey(7), tk.UserKey)
	require.Equal(t, SeqNum(99), tk.SeqNum)
	require.Equal(t, Empty, tk.WriteType)
}
