package codec

import "encoding/json"

// NewJSONCodec creates a new codec using json encoding.
// It works for any type the encoding/json package can marshal.
func NewJSONCodec[T any]() Codec[T] {
	return &jsonCodecImpl[T]{}
}

// jsonCodecImpl implements the Codec interface using json encoding
type jsonCodecImpl[T any] struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see codec.Codec)
// --------------------------------------------------------------------------

func (j *jsonCodecImpl[T]) Encode(value T) ([]byte, error) {
	return json.Marshal(value)
}

func (j *jsonCodecImpl[T]) Decode(b []byte) (T, error) {
	var value T
	err := json.Unmarshal(b, &value)
	return value, err
}
