package memstore

import (
	"fmt"
	"time"

	"github.com/ValentinKolb/dGrid/lib/events"
	"github.com/ValentinKolb/dGrid/lib/logging"
	"github.com/ValentinKolb/dGrid/lib/store"
	"github.com/puzpuzpuz/xsync/v3"
)

var log = logging.GetLogger("memstore")

// --------------------------------------------------------------------------
// Constants and Options
// --------------------------------------------------------------------------

const (
	defaultSweepInterval = 100 * time.Millisecond
	defaultMaxBatch      = 100
	defaultWindow        = 50 * time.Millisecond
)

// Options configures the in-memory store behavior during initialization
type Options struct {
	ID                 string        // Storage identifier (required)
	Retention          time.Duration // Entry lifetime before expiration (0 = entries never expire)
	SweepInterval      time.Duration // Time between expiration sweeps (0 = use default)
	MaxCollectedEvents int           // Event batch size threshold (0 = use default)
	MaxCollectedTime   time.Duration // Event batch time window (0 = use default)
}

// --------------------------------------------------------------------------
// Store Implementation
// --------------------------------------------------------------------------

// box wraps a stored value with its optional expiration instant
type box[V any] struct {
	value    V
	expireAt int64 // unix nanos, 0 = never
}

// storeImpl is a concurrent in-memory LocalStorage. Entries live in a
// concurrent map; an optional background sweep expires entries older than
// the configured retention and reports them through the event pipeline.
type storeImpl[K comparable, V any] struct {
	id        string
	entries   *xsync.MapOf[K, box[V]]
	pipeline  *events.Pipeline[K, V]
	retention time.Duration

	stop chan struct{}
}

// New creates a new in-memory local storage instance.
//
// Thread-safety: all methods of the returned store are safe for concurrent
// use; New itself should only be called once per storage.
func New[K comparable, V any](opts Options) store.LocalStorage[K, V] {
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = defaultSweepInterval
	}
	if opts.MaxCollectedEvents <= 0 {
		opts.MaxCollectedEvents = defaultMaxBatch
	}
	if opts.MaxCollectedTime <= 0 {
		opts.MaxCollectedTime = defaultWindow
	}

	s := &storeImpl[K, V]{
		id:        opts.ID,
		entries:   xsync.NewMapOf[K, box[V]](),
		pipeline:  events.NewPipeline[K, V](opts.MaxCollectedEvents, opts.MaxCollectedTime),
		retention: opts.Retention,
		stop:      make(chan struct{}),
	}

	if s.retention > 0 {
		go s.sweep(opts.SweepInterval)
	}
	return s
}

// expiry returns the expiration instant for an entry written now
func (s *storeImpl[K, V]) expiry() int64 {
	if s.retention <= 0 {
		return 0
	}
	return time.Now().Add(s.retention).UnixNano()
}

// alive reports whether a box holds a live (non-expired) value
func alive[V any](b box[V], now int64) bool {
	return b.expireAt == 0 || now < b.expireAt
}

// sweep periodically removes expired entries and emits expired events
func (s *storeImpl[K, V]) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			now := time.Now().UnixNano()
			s.entries.Range(func(key K, b box[V]) bool {
				if alive(b, now) {
					return true
				}
				if _, loaded := s.entries.LoadAndDelete(key); loaded {
					s.pipeline.Emit(events.Event[K, V]{
						Type:     events.TypeExpired,
						Key:      key,
						OldValue: b.value,
					})
				}
				return true
			})
		}
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store.LocalStorage)
// --------------------------------------------------------------------------

func (s *storeImpl[K, V]) Id() string {
	return s.id
}

func (s *storeImpl[K, V]) Get(key K) (V, bool) {
	b, ok := s.entries.Load(key)
	if !ok || !alive(b, time.Now().UnixNano()) {
		var zero V
		return zero, false
	}
	return b.value, true
}

func (s *storeImpl[K, V]) GetAll(keys []K) map[K]V {
	out := make(map[K]V, len(keys))
	now := time.Now().UnixNano()
	for _, key := range keys {
		if b, ok := s.entries.Load(key); ok && alive(b, now) {
			out[key] = b.value
		}
	}
	return out
}

func (s *storeImpl[K, V]) Set(key K, value V) (V, bool) {
	prev, loaded := s.entries.LoadAndStore(key, box[V]{value: value, expireAt: s.expiry()})
	if loaded && alive(prev, time.Now().UnixNano()) {
		s.pipeline.Emit(events.Event[K, V]{
			Type:     events.TypeUpdated,
			Key:      key,
			OldValue: prev.value,
			NewValue: value,
		})
		return prev.value, true
	}
	s.pipeline.Emit(events.Event[K, V]{
		Type:     events.TypeCreated,
		Key:      key,
		NewValue: value,
	})
	var zero V
	return zero, false
}

func (s *storeImpl[K, V]) SetAll(entries map[K]V) map[K]V {
	old := make(map[K]V)
	for key, value := range entries {
		if prev, loaded := s.Set(key, value); loaded {
			old[key] = prev
		}
	}
	return old
}

func (s *storeImpl[K, V]) InsertAll(entries map[K]V) map[K]V {
	existing := make(map[K]V)
	for key, value := range entries {
		prev, loaded := s.entries.LoadOrStore(key, box[V]{value: value, expireAt: s.expiry()})
		if loaded && alive(prev, time.Now().UnixNano()) {
			existing[key] = prev.value
			continue
		}
		if loaded {
			// the previous entry was expired but not yet swept; replace it
			s.entries.Store(key, box[V]{value: value, expireAt: s.expiry()})
		}
		s.pipeline.Emit(events.Event[K, V]{
			Type:     events.TypeCreated,
			Key:      key,
			NewValue: value,
		})
	}
	return existing
}

func (s *storeImpl[K, V]) Delete(key K) bool {
	prev, loaded := s.entries.LoadAndDelete(key)
	if !loaded || !alive(prev, time.Now().UnixNano()) {
		return false
	}
	s.pipeline.Emit(events.Event[K, V]{
		Type:     events.TypeDeleted,
		Key:      key,
		OldValue: prev.value,
	})
	return true
}

func (s *storeImpl[K, V]) DeleteAll(keys []K) []K {
	deleted := make([]K, 0, len(keys))
	for _, key := range keys {
		if s.Delete(key) {
			deleted = append(deleted, key)
		}
	}
	return deleted
}

func (s *storeImpl[K, V]) Evict(key K) {
	prev, loaded := s.entries.LoadAndDelete(key)
	if !loaded {
		return
	}
	s.pipeline.Emit(events.Event[K, V]{
		Type:     events.TypeEvicted,
		Key:      key,
		OldValue: prev.value,
	})
}

func (s *storeImpl[K, V]) EvictAll(keys []K) {
	for _, key := range keys {
		s.Evict(key)
	}
}

func (s *storeImpl[K, V]) Restore(key K, value V) error {
	prev, loaded := s.entries.LoadOrStore(key, box[V]{value: value, expireAt: s.expiry()})
	if loaded && alive(prev, time.Now().UnixNano()) {
		return store.NewError(store.RetCInvalidOperation,
			fmt.Sprintf("restore of already present key %v", key))
	}
	if loaded {
		s.entries.Store(key, box[V]{value: value, expireAt: s.expiry()})
	}
	s.pipeline.Emit(events.Event[K, V]{
		Type:     events.TypeRestored,
		Key:      key,
		NewValue: value,
	})
	return nil
}

func (s *storeImpl[K, V]) RestoreAll(entries map[K]V) error {
	for key, value := range entries {
		if err := s.Restore(key, value); err != nil {
			return err
		}
	}
	return nil
}

func (s *storeImpl[K, V]) Keys() []K {
	now := time.Now().UnixNano()
	keys := make([]K, 0, s.entries.Size())
	s.entries.Range(func(key K, b box[V]) bool {
		if alive(b, now) {
			keys = append(keys, key)
		}
		return true
	})
	return keys
}

func (s *storeImpl[K, V]) Size() int {
	return len(s.Keys())
}

func (s *storeImpl[K, V]) IsEmpty() bool {
	return s.Size() == 0
}

func (s *storeImpl[K, V]) Clear() {
	s.EvictAll(s.Keys())
}

func (s *storeImpl[K, V]) Iterator() store.Iterator[K, V] {
	now := time.Now().UnixNano()
	snapshot := make([]store.Entry[K, V], 0, s.entries.Size())
	s.entries.Range(func(key K, b box[V]) bool {
		if alive(b, now) {
			snapshot = append(snapshot, store.Entry[K, V]{Key: key, Value: b.value})
		}
		return true
	})
	return store.NewSliceIterator(snapshot)
}

func (s *storeImpl[K, V]) Events() *events.Pipeline[K, V] {
	return s.pipeline
}

func (s *storeImpl[K, V]) Close() error {
	select {
	case <-s.stop:
		return nil
	default:
	}
	close(s.stop)
	s.pipeline.Close()
	s.entries.Clear()
	log.Debugf("storage %s closed", s.id)
	return nil
}
