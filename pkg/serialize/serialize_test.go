package serialize

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frame(t *testing.T, writer *FrameWriter) []byte {
	bs, err := writer.Frame()
	require.NoError(t, err)
	return bs
}

func TestSerializeString(t *testing.T) {

	input := "Hello, World! This is my test string 12312341234! \\@#$%@&^&%^\n newline \t _yay 世界"

	writer := NewFrameWriter(ByteSizeString(input))
	SerializeString(writer, input)

	bs := frame(t, writer)
	reader := NewReader(bs)

	var output string
	err := DeserializeString(&output, reader)
	require.NoError(t, err)

	assert.Equal(t, input, output)
	assert.Equal(t, 0, reader.Remaining())
}

func TestSerializeBool(t *testing.T) {

	for _, input := range []bool{true, false} {
		writer := NewFrameWriter(ByteSizeBool(input))
		SerializeBool(writer, input)

		reader := NewReader(frame(t, writer))

		var output bool
		err := DeserializeBool(&output, reader)
		require.NoError(t, err)

		assert.Equal(t, input, output)
	}
}

func TestSerializeUInt8(t *testing.T) {

	for i := 0; i < 256; i++ {
		input := uint8(i)

		writer := NewFrameWriter(ByteSizeUInt8(input))
		SerializeUInt8(writer, input)

		reader := NewReader(frame(t, writer))

		var output uint8
		err := DeserializeUInt8(&output, reader)
		require.NoError(t, err)

		assert.Equal(t, input, output)
	}
}

func TestSerializeUInt32(t *testing.T) {

	inputs := []uint32{0, 1, 255, 256, 65535, 1 << 24, math.MaxUint32}
	for _, input := range inputs {
		writer := NewFrameWriter(ByteSizeUInt32(input))
		SerializeUInt32(writer, input)

		reader := NewReader(frame(t, writer))

		var output uint32
		err := DeserializeUInt32(&output, reader)
		require.NoError(t, err)

		assert.Equal(t, input, output)
	}
}

func TestSerializeBytes(t *testing.T) {

	input := []byte(`{"count":1}`)

	writer := NewFrameWriter(ByteSizeBytes(input) + ByteSizeBytes(nil))
	SerializeBytes(writer, input)
	SerializeBytes(writer, nil)

	bs := frame(t, writer)
	reader := NewReader(bs)

	var output []byte
	err := DeserializeBytes(&output, reader)
	require.NoError(t, err)
	assert.Equal(t, input, output)

	// the result must not alias the source buffer
	bs[4] = 'X'
	assert.Equal(t, input, output)

	err = DeserializeBytes(&output, reader)
	require.NoError(t, err)
	assert.Empty(t, output)
}

func TestDeserializeShortBuffer(t *testing.T) {

	writer := NewFrameWriter(ByteSizeString("truncated"))
	SerializeString(writer, "truncated")
	bs := frame(t, writer)

	var output string
	err := DeserializeString(&output, NewReader(bs[:6]))
	require.Error(t, err)

	var n uint32
	err = DeserializeUInt32(&n, NewReader(bs[:2]))
	require.Error(t, err)
}

func TestFrameWriterOverflow(t *testing.T) {

	writer := NewFrameWriter(1)
	assert.Panics(t, func() {
		SerializeUInt32(writer, 1)
	})
}

func TestFrameWriterUnfilledFrame(t *testing.T) {

	writer := NewFrameWriter(4)
	SerializeUInt8(writer, 1)
	assert.Equal(t, 3, writer.Remaining())

	_, err := writer.Frame()
	require.ErrorIs(t, err, ErrFrameSize)
	assert.Contains(t, err.Error(), "3 bytes unwritten")

	assert.Panics(t, func() {
		writer.PutPrefix([4]byte{'i', 'p', 'c', 'm'})
	})
}

func TestFrameWriterPrefix(t *testing.T) {

	writer := NewFrameWriter(4 + ByteSizeUInt8(7))
	writer.PutPrefix([4]byte{'i', 'p', 'c', 'r'})
	SerializeUInt8(writer, 7)

	assert.Equal(t, []byte{'i', 'p', 'c', 'r', 7}, frame(t, writer))
}
