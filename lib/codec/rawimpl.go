package codec

// NewStringCodec creates a codec that stores strings as their raw bytes.
// This is the cheapest codec for string keys and avoids any quoting overhead.
func NewStringCodec() Codec[string] {
	return &stringCodecImpl{}
}

// stringCodecImpl implements the Codec interface for strings without framing
type stringCodecImpl struct {
}

func (s *stringCodecImpl) Encode(value string) ([]byte, error) {
	return []byte(value), nil
}

func (s *stringCodecImpl) Decode(b []byte) (string, error) {
	return string(b), nil
}

// NewBytesCodec creates a codec that passes byte slices through unchanged
func NewBytesCodec() Codec[[]byte] {
	return &bytesCodecImpl{}
}

// bytesCodecImpl implements the Codec interface for raw byte slices
type bytesCodecImpl struct {
}

func (c *bytesCodecImpl) Encode(value []byte) ([]byte, error) {
	return value, nil
}

func (c *bytesCodecImpl) Decode(b []byte) ([]byte, error) {
	return b, nil
}
