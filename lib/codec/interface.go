package codec

import "fmt"

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// Codec is the interface for all key and value codecs.
// A distributed storage is configured with one codec for its keys and one
// for its values; the grid fabric itself never inspects the encoded bytes.
type Codec[T any] interface {
	// Encode encodes a value into a byte array.
	// It returns the encoded byte array and an error if any.
	Encode(value T) ([]byte, error)
	// Decode decodes a byte array into a value.
	// It returns the decoded value and an error if any.
	Decode(b []byte) (T, error)
}

// --------------------------------------------------------------------------
// Slice Helpers
// --------------------------------------------------------------------------

// EncodeAll encodes a slice of values with the given codec.
// Encoding stops at the first failure.
func EncodeAll[T any](c Codec[T], values []T) ([][]byte, error) {
	out := make([][]byte, 0, len(values))
	for _, v := range values {
		b, err := c.Encode(v)
		if err != nil {
			return nil, fmt.Errorf("encode element %d: %w", len(out), err)
		}
		out = append(out, b)
	}
	return out, nil
}

// DecodeAll decodes a slice of byte arrays with the given codec.
// Decoding stops at the first failure.
func DecodeAll[T any](c Codec[T], encoded [][]byte) ([]T, error) {
	out := make([]T, 0, len(encoded))
	for _, b := range encoded {
		v, err := c.Decode(b)
		if err != nil {
			return nil, fmt.Errorf("decode element %d: %w", len(out), err)
		}
		out = append(out, v)
	}
	return out, nil
}
