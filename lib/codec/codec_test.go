package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testValue struct {
	Name  string
	Count int
	Tags  []string
}

// TestJSONCodecRoundTrip tests that values survive a json encode/decode cycle
func TestJSONCodecRoundTrip(t *testing.T) {
	c := NewJSONCodec[testValue]()

	in := testValue{Name: "answer", Count: 42, Tags: []string{"a", "b"}}
	b, err := c.Encode(in)
	require.NoError(t, err)

	out, err := c.Decode(b)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

// TestGOBCodecRoundTrip tests that values survive a gob encode/decode cycle
func TestGOBCodecRoundTrip(t *testing.T) {
	c := NewGOBCodec[testValue]()

	in := testValue{Name: "answer", Count: 42, Tags: []string{"a", "b"}}
	b, err := c.Encode(in)
	require.NoError(t, err)

	out, err := c.Decode(b)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

// TestStringCodec tests that the raw string codec is identity on bytes
func TestStringCodec(t *testing.T) {
	c := NewStringCodec()

	b, err := c.Encode("some-key")
	require.NoError(t, err)
	assert.Equal(t, []byte("some-key"), b)

	out, err := c.Decode(b)
	require.NoError(t, err)
	assert.Equal(t, "some-key", out)
}

// TestBytesCodec tests that the bytes codec passes data through unchanged
func TestBytesCodec(t *testing.T) {
	c := NewBytesCodec()

	in := []byte{0x00, 0x01, 0xfe, 0xff}
	b, err := c.Encode(in)
	require.NoError(t, err)

	out, err := c.Decode(b)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

// TestJSONCodecDecodeFailure tests that malformed input surfaces an error
func TestJSONCodecDecodeFailure(t *testing.T) {
	c := NewJSONCodec[testValue]()
	_, err := c.Decode([]byte("{not json"))
	assert.Error(t, err)
}

// TestEncodeAllDecodeAll tests the slice helpers
func TestEncodeAllDecodeAll(t *testing.T) {
	c := NewJSONCodec[int]()

	encoded, err := EncodeAll(c, []int{1, 2, 3})
	require.NoError(t, err)
	require.Len(t, encoded, 3)

	decoded, err := DecodeAll(c, encoded)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, decoded)
}
