package endpoint

// --------------------------------------------------------------------------
// Streaming Batcher
// --------------------------------------------------------------------------

// chunks streams fixed-size windows over encoded keys and values, so a
// request larger than the per-message budget becomes a sequence of
// independently correlated requests.
type chunks struct {
	keys   [][]byte
	values [][]byte
	size   int
	pos    int
}

// newChunks creates a batcher over the given slices. values may be nil for
// key-only requests. size must be at least 1.
func newChunks(keys, values [][]byte, size int) *chunks {
	if size < 1 {
		size = 1
	}
	return &chunks{keys: keys, values: values, size: size}
}

// next yields the next window. The boolean return value is false once the
// input is exhausted.
func (c *chunks) next() (keys, values [][]byte, ok bool) {
	if c.pos >= len(c.keys) {
		return nil, nil, false
	}
	end := c.pos + c.size
	if end > len(c.keys) {
		end = len(c.keys)
	}
	keys = c.keys[c.pos:end]
	if c.values != nil {
		values = c.values[c.pos:end]
	}
	c.pos = end
	return keys, values, true
}
