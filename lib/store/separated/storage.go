package separated

import (
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dGrid/lib/codec"
	"github.com/ValentinKolb/dGrid/lib/events"
	"github.com/ValentinKolb/dGrid/lib/grid"
	"github.com/ValentinKolb/dGrid/lib/grid/backups"
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

// Config configures a separated storage. Zero values inherit grid defaults.
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

// storageImpl distributes entries by ownership: the first peer to insert a
// key owns it, every other peer reaches it through the endpoint. A backup
// copy of every owned entry lives on one other peer so ownership can move
// when the owner leaves.
type storageImpl[K comparable, V any] struct {
	endpoint.NopHandler[K, V]

	cfg     Config
	ep      *endpoint.Endpoint[K, V]
	local   store.LocalStorage[K, V]
	backups *backups.Backups[K, V]
	log     *logrus.Entry

	cancelEvents func()
	closed       atomic.Bool
	iterBatch    int
}

// New creates a separated storage on the given grid. Passing a nil local
// storage builds an in-memory one; a supplied store must be thread-safe.
func New[K comparable, V any](
	g *grid.StorageGrid,
	cfg Config,
	keyCodec codec.Codec[K],
	valueCodec codec.Codec[V],
	local store.LocalStorage[K, V],
) (store.Storage[K, V], error) {
	if cfg.StorageID == "" {
		return nil, store.NewError(store.RetCMissingConfig, "separated storage requires a storage id")
	}

	ep, err := endpoint.New(g, endpoint.Options{
		StorageID:        cfg.StorageID,
		Protocol:         transport.ProtocolSeparatedStorage,
		RequestTimeout:   cfg.RequestTimeout,
		MaxMessageKeys:   cfg.MaxMessageKeys,
		MaxMessageValues: cfg.MaxMessageValues,
	}, keyCodec, valueCodec)
	if err != nil {
		return nil, err
	}

	if local == nil {
		gridCfg := g.Config()
		local = memstore.New[K, V](memstore.Options{
			ID:                 cfg.StorageID,
			Retention:          cfg.Retention,
			MaxCollectedEvents: gridCfg.MaxCollectedEvents,
			MaxCollectedTime:   gridCfg.MaxCollectedTime,
		})
	}

	bk, err := backups.New(g, backups.Options{StorageID: cfg.StorageID}, keyCodec, valueCodec)
	if err != nil {
		return nil, err
	}

	iterBatch := cfg.IteratorBatchSize
	if iterBatch <= 0 {
		iterBatch = g.Config().IteratorBatchSize
	}

	s := &storageImpl[K, V]{
		cfg:       cfg,
		ep:        ep,
		local:     local,
		backups:   bk,
		log:       logging.GetLogger("separated").WithField("storage", cfg.StorageID),
		iterBatch: iterBatch,
	}
	s.cancelEvents = local.Events().Subscribe(s.onEvents)

	if err := ep.Listen(s); err != nil {
		return nil, err
	}
	return s, nil
}

// onEvents feeds local store changes into the backup storage
func (s *storageImpl[K, V]) onEvents(batch []events.Event[K, V]) {
	var saved map[K]V
	var deleted, evicted []K
	for _, ev := range batch {
		switch ev.Type {
		case events.TypeCreated, events.TypeUpdated:
			if saved == nil {
				saved = map[K]V{}
			}
			saved[ev.Key] = ev.NewValue
		case events.TypeDeleted, events.TypeExpired:
			deleted = append(deleted, ev.Key)
		case events.TypeEvicted:
			evicted = append(evicted, ev.Key)
		}
	}
	if len(saved) > 0 {
		s.backups.Save(saved)
	}
	if len(deleted) > 0 {
		s.backups.Delete(deleted)
	}
	if len(evicted) > 0 {
		s.backups.Evict(evicted)
	}
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
		if _, dup := result[k]; dup {
			s.log.Warnf("key %v found locally and remotely, keeping the remote value", k)
		}
		result[k] = v
	}
	return result, err
}

func (s *storageImpl[K, V]) Set(key K, value V) (V, bool, error) {
	// the owner mutates directly
	if _, ok := s.local.Get(key); ok {
		old, loaded := s.local.Set(key, value)
		return old, loaded, nil
	}

	// update requests cannot create entries, so a response containing the
	// key identifies its owner
	updated, err := s.ep.RequestUpdateEntries(map[K]V{key: value})
	if old, ok := updated[key]; ok {
		return old, true, nil
	}
	if err != nil {
		s.log.Warnf("remote update of %v incomplete, inserting locally: %v", key, err)
	}

	// no peer claimed the key: this peer becomes the owner
	old, loaded := s.local.Set(key, value)
	return old, loaded, nil
}

func (s *storageImpl[K, V]) SetAll(entries map[K]V) (map[K]V, error) {
	keys := keysOf(entries)

	// locally owned keys mutate directly; their old values form the result
	oldLocal := s.local.GetAll(keys)
	if len(oldLocal) > 0 {
		owned := make(map[K]V, len(oldLocal))
		for k := range oldLocal {
			owned[k] = entries[k]
		}
		s.local.SetAll(owned)
	}

	missing := subtractKeys(keys, oldLocal)
	if len(missing) == 0 {
		return oldLocal, nil
	}

	remaining := make(map[K]V, len(missing))
	for _, k := range missing {
		remaining[k] = entries[k]
	}
	oldRemote, err := s.ep.RequestUpdateEntries(remaining)
	if err != nil {
		s.log.Warnf("remote update incomplete: %v", err)
	}

	result := combine(oldLocal, oldRemote, s.log)
	missing = subtractKeys(missing, oldRemote)
	if len(missing) == 0 {
		return result, nil
	}

	// unclaimed keys are inserted locally, making this peer their owner
	fresh := make(map[K]V, len(missing))
	for _, k := range missing {
		fresh[k] = entries[k]
	}
	s.local.SetAll(fresh)
	return result, nil
}

func (s *storageImpl[K, V]) InsertAll(entries map[K]V) (map[K]V, error) {
	keys := keysOf(entries)

	existingLocal := s.local.GetAll(keys)
	missing := subtractKeys(keys, existingLocal)
	if len(missing) == 0 {
		return existingLocal, nil
	}

	existingRemote, err := s.ep.RequestGetEntries(missing)
	if err != nil {
		s.log.Warnf("remote existence check incomplete: %v", err)
	}
	missing = subtractKeys(missing, existingRemote)

	result := combine(existingLocal, existingRemote, s.log)
	if len(missing) == 0 {
		return result, nil
	}

	fresh := make(map[K]V, len(missing))
	for _, k := range missing {
		fresh[k] = entries[k]
	}
	return combine(result, s.local.InsertAll(fresh), s.log), nil
}

func (s *storageImpl[K, V]) Delete(key K) (bool, error) {
	if s.local.Delete(key) {
		return true, nil
	}
	deleted, err := s.ep.RequestDeleteEntries([]K{key})
	return containsKey(deleted, key), err
}

func (s *storageImpl[K, V]) DeleteAll(keys []K) ([]K, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	deletedLocal := s.local.DeleteAll(keys)
	if len(deletedLocal) == len(keys) {
		return deletedLocal, nil
	}

	remaining := make([]K, 0, len(keys)-len(deletedLocal))
	for _, k := range keys {
		if !containsKey(deletedLocal, k) {
			remaining = append(remaining, k)
		}
	}
	deletedRemote, err := s.ep.RequestDeleteEntries(remaining)
	return append(deletedLocal, deletedRemote...), err
}

func (s *storageImpl[K, V]) Evict(_ K) error {
	return store.NewError(store.RetCInvalidOperation, "evict is not allowed on a separated storage")
}

func (s *storageImpl[K, V]) EvictAll(_ []K) error {
	return store.NewError(store.RetCInvalidOperation, "evict is not allowed on a separated storage")
}

func (s *storageImpl[K, V]) RestoreAll(_ map[K]V) error {
	return store.NewError(store.RetCInvalidOperation, "restore is not allowed on a separated storage")
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
	s.cancelEvents()
	s.ep.Close()
	if err := s.backups.Close(); err != nil {
		return err
	}
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

func (s *storageImpl[K, V]) HandleUpdateEntriesRequest(entries map[K]V, _ uuid.UUID) map[K]V {
	// only entries this peer owns are updated; the old values identify them
	old := s.local.GetAll(keysOf(entries))
	if len(old) > 0 {
		owned := make(map[K]V, len(old))
		for k := range old {
			owned[k] = entries[k]
		}
		s.local.SetAll(owned)
	}
	return old
}

func (s *storageImpl[K, V]) HandleUpdateEntriesNotification(entries map[K]V, _ uuid.UUID) {
	owned := s.local.GetAll(keysOf(entries))
	if len(owned) == 0 {
		return
	}
	updated := make(map[K]V, len(owned))
	for k := range owned {
		updated[k] = entries[k]
	}
	s.local.SetAll(updated)
}

func (s *storageImpl[K, V]) HandleDeleteEntriesRequest(keys []K, _ uuid.UUID) []K {
	return s.local.DeleteAll(keys)
}

func (s *storageImpl[K, V]) HandleDeleteEntriesNotification(keys []K, _ uuid.UUID) {
	s.local.DeleteAll(keys)
}

func (s *storageImpl[K, V]) HandleRemoteEndpointDetached(id uuid.UUID) {
	inherited := s.backups.Extract(id)
	if len(inherited) == 0 {
		return
	}
	s.log.Infof("inheriting %d entries from detached peer %s", len(inherited), id)
	if err := s.local.RestoreAll(inherited); err != nil {
		s.log.Warnf("restoring inherited entries failed: %v", err)
	}
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

// subtractKeys returns the keys not present in the given map
func subtractKeys[K comparable, V any](keys []K, m map[K]V) []K {
	out := make([]K, 0, len(keys))
	for _, k := range keys {
		if _, ok := m[k]; !ok {
			out = append(out, k)
		}
	}
	return out
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

// combine merges two result maps, warning on duplicates (first value wins)
func combine[K comparable, V any](a, b map[K]V, log *logrus.Entry) map[K]V {
	out := make(map[K]V, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		if _, dup := out[k]; dup {
			log.Warnf("duplicate key %v while combining results, keeping the first value", k)
			continue
		}
		out[k] = v
	}
	return out
}
