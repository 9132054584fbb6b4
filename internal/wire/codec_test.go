package wire_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/wearlink/internal/wire"
)

func TestReadBigEndian(t *testing.T) {
	buf := []byte{0x01, 0x02, 0x03, 0x04, 0xFF, 0xFE}

	t.Run("uint8", func(t *testing.T) {
		v, err := wire.ReadUint8(buf, 4)
		require.NoError(t, err)
		assert.Equal(t, uint8(0xFF), v)
	})

	t.Run("uint16", func(t *testing.T) {
		v, err := wire.ReadUint16(buf, 0)
		require.NoError(t, err)
		assert.Equal(t, uint16(0x0102), v)
	})

	t.Run("int16 negative", func(t *testing.T) {
		v, err := wire.ReadInt16(buf, 4)
		require.NoError(t, err)
		assert.Equal(t, int16(-2), v)
	})

	t.Run("uint32", func(t *testing.T) {
		v, err := wire.ReadUint32(buf, 0)
		require.NoError(t, err)
		assert.Equal(t, uint32(0x01020304), v)
	})
}

func TestReadOutOfRange(t *testing.T) {
	buf := []byte{0x01, 0x02}

	_, err := wire.ReadUint16(buf, 1)
	assert.ErrorIs(t, err, wire.ErrShortBuffer)

	_, err = wire.ReadUint32(buf, 0)
	assert.ErrorIs(t, err, wire.ErrShortBuffer)

	_, err = wire.ReadUint8(buf, 2)
	assert.ErrorIs(t, err, wire.ErrShortBuffer)

	_, err = wire.ReadUint8(buf, -1)
	assert.ErrorIs(t, err, wire.ErrShortBuffer)
}

func TestSlice(t *testing.T) {
	buf := []byte{0, 1, 2, 3, 4}

	s, err := wire.Slice(buf, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, s)

	_, err = wire.Slice(buf, 3, 3)
	assert.ErrorIs(t, err, wire.ErrShortBuffer)

	_, err = wire.Slice(buf, -1, 2)
	assert.ErrorIs(t, err, wire.ErrShortBuffer)

	s, err = wire.Slice(buf, 5, 0)
	require.NoError(t, err)
	assert.Empty(t, s)
}

func TestAppendRoundTrip(t *testing.T) {
	var b []byte
	b = wire.AppendUint8(b, 0x7F)
	b = wire.AppendUint16(b, 0xBEEF)
	b = wire.AppendInt16(b, -32768)
	b = wire.AppendUint32(b, 0xDEADBEEF)

	require.Len(t, b, 9)

	v8, _ := wire.ReadUint8(b, 0)
	assert.Equal(t, uint8(0x7F), v8)
	v16, _ := wire.ReadUint16(b, 1)
	assert.Equal(t, uint16(0xBEEF), v16)
	i16, _ := wire.ReadInt16(b, 3)
	assert.Equal(t, int16(-32768), i16)
	v32, _ := wire.ReadUint32(b, 5)
	assert.Equal(t, uint32(0xDEADBEEF), v32)
}
