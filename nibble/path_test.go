package nibble_test

import (
	"testing"

	"github.com/erigontech/mpt/nibble"
	"github.com/stretchr/testify/require"
)

func TestFromKeyAt(t *testing.T) {
	p := nibble.FromKey([]byte{0xAB, 0xCD})
	require.Equal(t, 4, p.Len())
	require.Equal(t, byte(0xA), p.At(0))
	require.Equal(t, byte(0xB), p.At(1))
	require.Equal(t, byte(0xC), p.At(2))
	require.Equal(t, byte(0xD), p.At(3))
}

func TestSubAndEqual(t *testing.T) {
	p := nibble.FromKey([]byte{0x12, 0x34})
	sub := p.Sub(1, 3)
	require.Equal(t, 2, sub.Len())
	require.Equal(t, byte(0x2), sub.At(0))
	require.Equal(t, byte(0x3), sub.At(1))

	other := nibble.FromKey([]byte{0x23})
	require.True(t, sub.Equal(other))
}

func TestCommonPrefixLen(t *testing.T) {
	a := nibble.FromKey([]byte{0x12, 0x34})
	b := nibble.FromKey([]byte{0x12, 0x3F})
	require.Equal(t, 3, a.CommonPrefixLen(b))

	c := nibble.FromKey([]byte{0xFF})
	require.Equal(t, 0, a.CommonPrefixLen(c))
}

func TestConcat(t *testing.T) {
	a := nibble.FromKey([]byte{0x12})
	b := nibble.FromKey([]byte{0x34})
	cat := nibble.Concat(a, b)
	require.Equal(t, 4, cat.Len())
	for i, want := range []byte{0x1, 0x2, 0x3, 0x4} {
		require.Equal(t, want, cat.At(i))
	}
}

func TestAppendNibble(t *testing.T) {
	a := nibble.FromKey([]byte{0x12})
	out := nibble.AppendNibble(a, 0x7)
	require.Equal(t, 3, out.Len())
	require.Equal(t, byte(0x7), out.At(2))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	orig := nibble.FromKey([]byte{0xAB, 0xCD, 0xEF}).Sub(1, 5)
	packed, startNibble, n := orig.Encode()
	decoded := nibble.Decode(packed, startNibble, n)
	require.True(t, orig.Equal(decoded))
}

func TestEncodeOddAlignedSubrange(t *testing.T) {
	orig := nibble.FromKey([]byte{0x12, 0x34}).Sub(1, 3)
	require.Equal(t, byte(0x2), orig.At(0))
	require.Equal(t, byte(0x3), orig.At(1))
	packed, startNibble, n := orig.Encode()
	require.True(t, startNibble)
	decoded := nibble.Decode(packed, startNibble, n)
	require.True(t, orig.Equal(decoded))
}

func TestEmptyPath(t *testing.T) {
	e := nibble.Empty()
	require.True(t, e.IsEmpty())
	require.Equal(t, 0, e.Len())
	other := nibble.FromKey(nil)
	require.True(t, e.Equal(other))
}
