package store

// --------------------------------------------------------------------------
// Slice Iterator
// --------------------------------------------------------------------------

// sliceIterator iterates over a pre-built snapshot of entries
type sliceIterator[K comparable, V any] struct {
	entries []Entry[K, V]
	pos     int
}

// NewSliceIterator creates an iterator over the given snapshot
func NewSliceIterator[K comparable, V any](entries []Entry[K, V]) Iterator[K, V] {
	return &sliceIterator[K, V]{entries: entries}
}

func (it *sliceIterator[K, V]) Next() (Entry[K, V], bool) {
	if it.pos >= len(it.entries) {
		var zero Entry[K, V]
		return zero, false
	}
	e := it.entries[it.pos]
	it.pos++
	return e, true
}

// --------------------------------------------------------------------------
// Batched Iterator
// --------------------------------------------------------------------------

// batchedIterator pulls entries from a distributed storage in chunks of
// batchSize keys, so iterating a large storage does not materialize every
// value at once.
type batchedIterator[K comparable, V any] struct {
	storage   Storage[K, V]
	keys      []K
	batchSize int
	pos       int
	buf       []Entry[K, V]
	bufPos    int
}

// NewBatchedIterator creates an iterator over the given storage. The key set
// is snapshotted up front; values are fetched batch by batch and may observe
// concurrent modification.
func NewBatchedIterator[K comparable, V any](s Storage[K, V], batchSize int) Iterator[K, V] {
	if batchSize < 1 {
		batchSize = 1
	}
	// a partial key set still iterates; the error was logged upstream
	keys, _ := s.Keys()
	return &batchedIterator[K, V]{
		storage:   s,
		keys:      keys,
		batchSize: batchSize,
	}
}

func (it *batchedIterator[K, V]) Next() (Entry[K, V], bool) {
	for {
		if it.bufPos < len(it.buf) {
			e := it.buf[it.bufPos]
			it.bufPos++
			return e, true
		}
		if it.pos >= len(it.keys) {
			var zero Entry[K, V]
			return zero, false
		}

		end := it.pos + it.batchSize
		if end > len(it.keys) {
			end = len(it.keys)
		}
		chunk := it.keys[it.pos:end]
		it.pos = end

		found, _ := it.storage.GetAll(chunk)
		it.buf = it.buf[:0]
		it.bufPos = 0
		for _, k := range chunk {
			if v, ok := found[k]; ok {
				it.buf = append(it.buf, Entry[K, V]{Key: k, Value: v})
			}
		}
	}
}
