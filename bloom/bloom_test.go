package bloom

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func keyBytes(k int32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(k))
	return buf
}

func TestNoFalseNegatives(t *testing.T) {
	f := New()
	for i := int32(0); i < 500; i++ {
		f.Insert(keyBytes(i))
	}
	for i := int32(0); i < 500; i++ {
		require.True(t, f.MaybeContain(keyBytes(i)), "key %d must never be a false negative", i)
	}
}

func TestAbsentKeyCanReturnFalse(t *testing.T) {
	f := New()
	for i := int32(0); i < 10; i++ {
		f.Insert(keyBytes(i))
	}
	require.False(t, f.MaybeContain(keyBytes(99999)))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	f := New()
	for i := int32(0); i < 100; i++ {
		f.Insert(keyBytes(i))
	}
	decoded := Decode(f.Encode())
	for i := int32(0); i < 100; i++ {
		require.True(t, decoded.MaybeContain(keyBytes(i)))
	}
}

func TestEncodedSizeIsFixed(t *testing.T) {
	f := New()
	require.Len(t, f.Encode(), ByteSize)
	f.Insert(keyBytes(1))
	require.Len(t, f.Encode(), ByteSize)
}
