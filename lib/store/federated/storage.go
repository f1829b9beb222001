package federated

import (
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dGrid/lib/codec"
	"github.com/ValentinKolb/dGrid/lib/events"
	"github.com/ValentinKolb/dGrid/lib/grid"
	"github.com/ValentinKolb/dGrid/lib/grid/endpoint"
	"github.com/ValentinKolb/dGrid/lib/logging"
	"github.com/ValentinKolb/dGrid/lib/store"
	"github.com/ValentinKolb/dGrid/lib/store/memstore"
	"github.com/ValentinKolb/dGrid/lib/transport"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

// MergeOp combines two values of a federated storage. Supplying one is
// mandatory; the system assumes nothing about its algebraic properties,
// but cross-peer convergence of concurrent writes requires commutativity
// and associativity.
type MergeOp[V any] func(a, b V) V

// Config configures a federated storage. Zero values inherit grid defaults.
type Config struct {
	// StorageID names the storage across the grid (required)
	StorageID string
	// RequestTimeout overrides the grid's per-request deadline
	RequestTimeout time.Duration
	// MaxMessageKeys and MaxMessageValues override the per-message budget
	MaxMessageKeys   int
	MaxMessageValues int
	// IteratorBatchSize overrides the cross-cluster iteration chunk size
	IteratorBatchSize int
	// Retention optionally expires local entries after this duration
	Retention time.Duration
}

// --------------------------------------------------------------------------
// Storage Implementation
// --------------------------------------------------------------------------

// storageImpl distributes entries by merging. A set merges the written
// value into the local copy via the merge operator and broadcasts the raw
// contribution; every remote peer folds it into its own copy the same way.
// With a commutative and associative operator all peers converge on the
// merge-reduction of every contribution, whatever the delivery order.
//
// Reads prefer the local copy and fall back to a broadcast; duplicate keys
// across responses are already-converged copies of the same reduction, so
// response merging keeps one value (warning on mismatched expectations is
// left to the endpoint's collision log).
type storageImpl[K comparable, V any] struct {
	endpoint.NopHandler[K, V]

	cfg     Config
	ep      *endpoint.Endpoint[K, V]
	local   store.LocalStorage[K, V]
	mergeOp MergeOp[V]
	log     *logrus.Entry

	closed    atomic.Bool
	iterBatch int
}

// New creates a federated storage on the given grid. The merge operator is
// required; building without one fails. Passing a nil local storage builds
// an in-memory one.
func New[K comparable, V any](
	g *grid.StorageGrid,
	cfg Config,
	keyCodec codec.Codec[K],
	valueCodec codec.Codec[V],
	mergeOp MergeOp[V],
	local store.LocalStorage[K, V],
) (store.Storage[K, V], error) {
	if cfg.StorageID == "" {
		return nil, store.NewError(store.RetCMissingConfig, "federated storage requires a storage id")
	}
	if mergeOp == nil {
		return nil, store.NewError(store.RetCMissingConfig, "federated storage requires a merge operator")
	}

	ep, err := endpoint.New(g, endpoint.Options{
		StorageID:        cfg.StorageID,
		Protocol:         transport.ProtocolFederatedStorage,
		RequestTimeout:   cfg.RequestTimeout,
		MaxMessageKeys:   cfg.MaxMessageKeys,
		MaxMessageValues: cfg.MaxMessageValues,
	}, keyCodec, valueCodec)
	if err != nil {
		return nil, err
	}

	gridCfg := g.Config()
	if local == nil {
		local = memstore.New[K, V](memstore.Options{
			ID:                 cfg.StorageID,
			Retention:          cfg.Retention,
			MaxCollectedEvents: gridCfg.MaxCollectedEvents,
			MaxCollectedTime:   gridCfg.MaxCollectedTime,
		})
	}

	iterBatch := cfg.IteratorBatchSize
	if iterBatch <= 0 {
		iterBatch = gridCfg.IteratorBatchSize
	}

	s := &storageImpl[K, V]{
		cfg:       cfg,
		ep:        ep,
		local:     local,
		mergeOp:   mergeOp,
		log:       logging.GetLogger("federated").WithField("storage", cfg.StorageID),
		iterBatch: iterBatch,
	}
	if err := ep.Listen(s); err != nil {
		return nil, err
	}
	return s, nil
}

// mergeInto folds a contribution into the local copy and returns the value
// actually stored.
func (s *storageImpl[K, V]) mergeInto(key K, value V) V {
	if old, ok := s.local.Get(key); ok {
		value = s.mergeOp(old, value)
	}
	s.local.Set(key, value)
	return value
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store.Storage)
// --------------------------------------------------------------------------

func (s *storageImpl[K, V]) Id() string {
	return s.ep.StorageID()
}

func (s *storageImpl[K, V]) Get(key K) (V, bool, error) {
	if v, ok := s.local.Get(key); ok {
		return v, true, nil
	}
	remote, err := s.ep.RequestGetEntries([]K{key})
	if v, ok := remote[key]; ok {
		return v, true, err
	}
	var zero V
	return zero, false, err
}

func (s *storageImpl[K, V]) GetAll(keys []K) (map[K]V, error) {
	result := s.local.GetAll(keys)
	if len(result) == len(keys) {
		return result, nil
	}
	missing := make([]K, 0, len(keys)-len(result))
	for _, k := range keys {
		if _, ok := result[k]; !ok {
			missing = append(missing, k)
		}
	}
	remote, err := s.ep.RequestGetEntries(missing)
	for k, v := range remote {
		result[k] = v
	}
	return result, err
}

func (s *storageImpl[K, V]) Set(key K, value V) (V, bool, error) {
	old, loaded := s.local.Get(key)
	s.mergeInto(key, value)
	if err := s.ep.NotifyUpdateEntries(map[K]V{key: value}); err != nil {
		s.log.Warnf("broadcasting contribution for %v failed: %v", key, err)
	}
	return old, loaded, nil
}

func (s *storageImpl[K, V]) SetAll(entries map[K]V) (map[K]V, error) {
	old := s.local.GetAll(keysOf(entries))
	for k, v := range entries {
		s.mergeInto(k, v)
	}
	if err := s.ep.NotifyUpdateEntries(entries); err != nil {
		s.log.Warnf("broadcasting %d contributions failed: %v", len(entries), err)
	}
	return old, nil
}

func (s *storageImpl[K, V]) InsertAll(entries map[K]V) (map[K]V, error) {
	keys := keysOf(entries)
	existing := s.local.GetAll(keys)
	missing := make([]K, 0, len(keys))
	for _, k := range keys {
		if _, ok := existing[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) == 0 {
		return existing, nil
	}

	remote, err := s.ep.RequestGetEntries(missing)
	if err != nil {
		s.log.Warnf("remote existence check incomplete: %v", err)
	}
	fresh := make(map[K]V, len(missing))
	for _, k := range missing {
		if v, ok := remote[k]; ok {
			existing[k] = v
			continue
		}
		fresh[k] = entries[k]
	}
	if len(fresh) == 0 {
		return existing, nil
	}

	s.local.InsertAll(fresh)
	if err := s.ep.NotifyUpdateEntries(fresh); err != nil {
		s.log.Warnf("broadcasting %d inserted contributions failed: %v", len(fresh), err)
	}
	return existing, nil
}

func (s *storageImpl[K, V]) Delete(key K) (bool, error) {
	deletedLocally := s.local.Delete(key)
	deletedRemotely, err := s.ep.RequestDeleteEntries([]K{key})
	return deletedLocally || len(deletedRemotely) > 0, err
}

func (s *storageImpl[K, V]) DeleteAll(keys []K) ([]K, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	deleted := s.local.DeleteAll(keys)
	remote, err := s.ep.RequestDeleteEntries(keys)
	for _, k := range remote {
		if !containsKey(deleted, k) {
			deleted = append(deleted, k)
		}
	}
	return deleted, err
}

func (s *storageImpl[K, V]) Evict(_ K) error {
	return store.NewError(store.RetCInvalidOperation, "evict is not allowed on a federated storage")
}

func (s *storageImpl[K, V]) EvictAll(_ []K) error {
	return store.NewError(store.RetCInvalidOperation, "evict is not allowed on a federated storage")
}

func (s *storageImpl[K, V]) RestoreAll(_ map[K]V) error {
	return store.NewError(store.RetCInvalidOperation, "restore is not allowed on a federated storage")
}

func (s *storageImpl[K, V]) Keys() ([]K, error) {
	remote, err := s.ep.RequestGetKeys()
	keys := s.local.Keys()
	seen := make(map[K]struct{}, len(keys))
	for _, k := range keys {
		seen[k] = struct{}{}
	}
	for _, k := range remote {
		if _, dup := seen[k]; !dup {
			keys = append(keys, k)
		}
	}
	return keys, err
}

func (s *storageImpl[K, V]) Size() int {
	return s.local.Size()
}

func (s *storageImpl[K, V]) IsEmpty() bool {
	return s.local.IsEmpty()
}

func (s *storageImpl[K, V]) Clear() {
	s.local.Clear()
}

func (s *storageImpl[K, V]) Iterator() store.Iterator[K, V] {
	return store.NewBatchedIterator[K, V](s, s.iterBatch)
}

func (s *storageImpl[K, V]) Events() *events.Pipeline[K, V] {
	return s.local.Events()
}

func (s *storageImpl[K, V]) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.ep.Close()
	return s.local.Close()
}

func (s *storageImpl[K, V]) LocalKeys() []K {
	return s.local.Keys()
}

func (s *storageImpl[K, V]) LocalSize() int {
	return s.local.Size()
}

func (s *storageImpl[K, V]) LocalIsEmpty() bool {
	return s.local.IsEmpty()
}

func (s *storageImpl[K, V]) LocalIterator() store.Iterator[K, V] {
	return s.local.Iterator()
}

func (s *storageImpl[K, V]) LocalClear() {
	s.local.Clear()
}

// --------------------------------------------------------------------------
// Inbound Handlers (docu see endpoint.Handler)
// --------------------------------------------------------------------------

func (s *storageImpl[K, V]) HandleGetEntriesRequest(keys []K, _ uuid.UUID) map[K]V {
	return s.local.GetAll(keys)
}

func (s *storageImpl[K, V]) HandleGetKeysRequest(_ uuid.UUID) []K {
	return s.local.Keys()
}

// HandleUpdateEntriesNotification folds remote contributions into the
// local copy with the merge operator.
func (s *storageImpl[K, V]) HandleUpdateEntriesNotification(entries map[K]V, _ uuid.UUID) {
	for k, v := range entries {
		s.mergeInto(k, v)
	}
}

func (s *storageImpl[K, V]) HandleDeleteEntriesRequest(keys []K, _ uuid.UUID) []K {
	return s.local.DeleteAll(keys)
}

func (s *storageImpl[K, V]) HandleDeleteEntriesNotification(keys []K, _ uuid.UUID) {
	s.local.DeleteAll(keys)
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// keysOf returns the key list of a map
func keysOf[K comparable, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

// containsKey reports whether the key list contains the given key
func containsKey[K comparable](keys []K, key K) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}
