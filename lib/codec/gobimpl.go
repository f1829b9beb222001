package codec

import (
	"bytes"
	"encoding/gob"
)

// NewGOBCodec creates a new codec using Go's binary gob format
func NewGOBCodec[T any]() Codec[T] {
	return &gobCodecImpl[T]{}
}

// gobCodecImpl implements the Codec interface using gob encoding
type gobCodecImpl[T any] struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see codec.Codec)
// --------------------------------------------------------------------------

func (g *gobCodecImpl[T]) Encode(value T) ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(value); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (g *gobCodecImpl[T]) Decode(b []byte) (T, error) {
	var value T
	buf := bytes.NewBuffer(b)
	dec := gob.NewDecoder(buf)
	err := dec.Decode(&value)
	return value, err
}
