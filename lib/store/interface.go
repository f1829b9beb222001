package store

import (
	"github.com/ValentinKolb/dGrid/lib/events"
)

// --------------------------------------------------------------------------
// Entry and Iterator
// --------------------------------------------------------------------------

// Entry is one key-value pair of a storage
type Entry[K comparable, V any] struct {
	Key   K
	Value V
}

// Iterator walks the entries of a storage. It makes no freshness guarantee;
// implementations typically iterate over a snapshot.
type Iterator[K comparable, V any] interface {
	// Next returns the next entry. The boolean return value is false once
	// the iterator is exhausted.
	Next() (Entry[K, V], bool)
}

// --------------------------------------------------------------------------
// Local Storage Contract (consumed by the distributed storages)
// --------------------------------------------------------------------------

// LocalStorage is the contract a distributed storage consumes for its local
// data. Implementations must be safe for concurrent use: the public API of
// the distributed storage and the inbound message handlers of its endpoint
// mutate the store from different goroutines.
//
// Evict and Restore are internal transitions: evict removes an entry without
// signaling deletion to the rest of the grid (used when a backup copy moves),
// restore re-inserts an entry whose ownership was transferred to this peer.
type LocalStorage[K comparable, V any] interface {
	// Id returns the storage identifier
	Id() string

	// Get returns the value for a key. The boolean return value indicates
	// whether a value for the key was found.
	Get(key K) (V, bool)
	// GetAll returns the found subset of the requested keys
	GetAll(keys []K) map[K]V

	// Set inserts or updates a key-value pair and returns the previous
	// value if the key existed.
	Set(key K, value V) (V, bool)
	// SetAll inserts or updates all given entries and returns the previous
	// values of the keys that existed.
	SetAll(entries map[K]V) map[K]V
	// InsertAll inserts the entries whose keys are absent and returns the
	// existing entries that blocked insertion.
	InsertAll(entries map[K]V) map[K]V

	// Delete removes a key and reports whether it was present
	Delete(key K) bool
	// DeleteAll removes the given keys and returns those actually deleted
	DeleteAll(keys []K) []K

	// Evict removes a key without emitting a deleted event (an evicted
	// event is emitted instead)
	Evict(key K)
	// EvictAll evicts all given keys
	EvictAll(keys []K)

	// Restore re-inserts an entry transferred from another peer. Restoring
	// a key that is already present is a logical error.
	Restore(key K, value V) error
	// RestoreAll restores all given entries, stopping at the first failure
	RestoreAll(entries map[K]V) error

	// Keys returns all keys currently present
	Keys() []K
	// Size returns the number of entries
	Size() int
	// IsEmpty reports whether the store has no entries
	IsEmpty() bool
	// Clear evicts every entry
	Clear()

	// Iterator returns a snapshot iterator over all entries
	Iterator() Iterator[K, V]
	// Events returns the store's event pipeline
	Events() *events.Pipeline[K, V]
	// Close emits a closing event and releases all resources
	Close() error
}

// --------------------------------------------------------------------------
// Distributed Storage Contract (exposed to the application)
// --------------------------------------------------------------------------

// Storage is the application-facing interface shared by all distribution
// strategies. Operations may suspend the caller while remote peers are
// consulted; a request that times out returns the partial result together
// with a *TimeoutError.
//
// The Local* variants operate on the local store only and never touch the
// bus.
type Storage[K comparable, V any] interface {
	// Id returns the storage identifier shared by all peers of this storage
	Id() string

	// Get returns the value for a key, consulting remote peers as the
	// strategy requires.
	Get(key K) (V, bool, error)
	// GetAll returns the found subset of the requested keys
	GetAll(keys []K) (map[K]V, error)

	// Set inserts or updates a key-value pair and returns the previous
	// value if one was known anywhere the strategy looked.
	Set(key K, value V) (V, bool, error)
	// SetAll inserts or updates all entries and returns the previous values
	SetAll(entries map[K]V) (map[K]V, error)
	// InsertAll inserts the entries whose keys are absent in the grid and
	// returns the already existing entries that blocked insertion.
	InsertAll(entries map[K]V) (map[K]V, error)

	// Delete removes a key and reports whether any peer deleted it
	Delete(key K) (bool, error)
	// DeleteAll removes the given keys and returns those actually deleted
	DeleteAll(keys []K) ([]K, error)

	// Evict is not part of any public strategy; it returns a
	// RetCInvalidOperation error.
	Evict(key K) error
	// EvictAll is not part of any public strategy; it returns a
	// RetCInvalidOperation error.
	EvictAll(keys []K) error
	// RestoreAll is not part of any public strategy; it returns a
	// RetCInvalidOperation error.
	RestoreAll(entries map[K]V) error

	// Keys returns the keys visible to this strategy
	Keys() ([]K, error)
	// Size returns the local entry count
	Size() int
	// IsEmpty reports whether the local store is empty
	IsEmpty() bool
	// Clear clears the local store
	Clear()

	// Iterator iterates the storage in batches of the configured size
	Iterator() Iterator[K, V]
	// Events returns the local store's event pipeline
	Events() *events.Pipeline[K, V]
	// Close disposes subscriptions, detaches from the grid and closes the
	// local store.
	Close() error

	// LocalKeys returns the keys of the local store only
	LocalKeys() []K
	// LocalSize returns the size of the local store only
	LocalSize() int
	// LocalIsEmpty reports whether the local store is empty
	LocalIsEmpty() bool
	// LocalIterator iterates the local store only
	LocalIterator() Iterator[K, V]
	// LocalClear clears the local store only
	LocalClear()
}
