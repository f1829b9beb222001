package replicated

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

// Config configures a replicated storage. Zero values inherit grid defaults.
type Config struct {
	// StorageID names the storage across the grid (required)
	StorageID string
	// RequestTimeout overrides the grid's per-request deadline
	RequestTimeout time.Duration
	// MaxMessageKeys and MaxMessageValues override the per-message budget
	MaxMessageKeys   int
	MaxMessageValues int
	// IteratorBatchSize overrides the iteration chunk size
	IteratorBatchSize int
	// Retention optionally expires local entries after this duration
	Retention time.Duration
}

// --------------------------------------------------------------------------
// Storage Implementation
// --------------------------------------------------------------------------

// storageImpl keeps a full copy of the storage on every peer. Writes are
// serialized through the raft leader: the caller sends a request to the
// leader, the leader applies it locally, broadcasts a notification to the
// followers and answers with the pre-write values. Reads never leave the
// local store.
type storageImpl[K comparable, V any] struct {
	endpoint.NopHandler[K, V]

	cfg   Config
	ep    *endpoint.Endpoint[K, V]
	local store.LocalStorage[K, V]
	log   *logrus.Entry

	// standalone is true while this peer has zero remote peers and
	// therefore acts as a plain local store
	standalone atomic.Bool

	cancelEvents func()
	closed       atomic.Bool
	iterBatch    int
	chunkSize    int
}

// New creates a replicated storage on the given grid. Passing a nil local
// storage builds an in-memory one; a supplied store must be thread-safe.
func New[K comparable, V any](
	g *grid.StorageGrid,
	cfg Config,
	keyCodec codec.Codec[K],
	valueCodec codec.Codec[V],
	local store.LocalStorage[K, V],
) (store.Storage[K, V], error) {
	if cfg.StorageID == "" {
		return nil, store.NewError(store.RetCMissingConfig, "replicated storage requires a storage id")
	}

	ep, err := endpoint.New(g, endpoint.Options{
		StorageID:        cfg.StorageID,
		Protocol:         transport.ProtocolReplicatedStorage,
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
	chunkSize := cfg.MaxMessageKeys
	if chunkSize <= 0 {
		chunkSize = gridCfg.MaxMessageKeys
	}

	s := &storageImpl[K, V]{
		cfg:       cfg,
		ep:        ep,
		local:     local,
		log:       logging.GetLogger("replicated").WithField("storage", cfg.StorageID),
		iterBatch: iterBatch,
		chunkSize: chunkSize,
	}
	s.standalone.Store(len(g.RemoteEndpointIDs()) == 0)
	s.cancelEvents = local.Events().Subscribe(s.onEvents)

	if err := ep.Listen(s); err != nil {
		return nil, err
	}
	return s, nil
}

// onEvents propagates locally expired entries as cluster-wide deletes.
// Only the leader does this; follower expirations stay silent to avoid a
// delete storm for every entry reaching its retention on every peer.
func (s *storageImpl[K, V]) onEvents(batch []events.Event[K, V]) {
	if s.standalone.Load() || !s.ep.IsLeader() {
		return
	}
	var expired []K
	for _, ev := range batch {
		if ev.Type == events.TypeExpired {
			expired = append(expired, ev.Key)
		}
	}
	if len(expired) == 0 {
		return
	}
	if _, err := s.ep.RequestDeleteEntries(expired, endpoint.ToLeader()); err != nil {
		s.log.Warnf("propagating %d expirations failed: %v", len(expired), err)
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store.Storage)
// --------------------------------------------------------------------------

func (s *storageImpl[K, V]) Id() string {
	return s.ep.StorageID()
}

func (s *storageImpl[K, V]) Get(key K) (V, bool, error) {
	v, ok := s.local.Get(key)
	return v, ok, nil
}

func (s *storageImpl[K, V]) GetAll(keys []K) (map[K]V, error) {
	return s.local.GetAll(keys), nil
}

func (s *storageImpl[K, V]) Set(key K, value V) (V, bool, error) {
	if s.standalone.Load() {
		old, loaded := s.local.Set(key, value)
		return old, loaded, nil
	}
	old, err := s.ep.RequestUpdateEntries(map[K]V{key: value}, endpoint.ToLeader())
	if err != nil {
		var zero V
		return zero, false, err
	}
	v, loaded := old[key]
	return v, loaded, nil
}

func (s *storageImpl[K, V]) SetAll(entries map[K]V) (map[K]V, error) {
	if s.standalone.Load() {
		return s.local.SetAll(entries), nil
	}
	return s.ep.RequestUpdateEntries(entries, endpoint.ToLeader())
}

func (s *storageImpl[K, V]) InsertAll(entries map[K]V) (map[K]V, error) {
	if s.standalone.Load() {
		return s.local.InsertAll(entries), nil
	}
	return s.ep.RequestInsertEntries(entries, endpoint.ToLeader())
}

func (s *storageImpl[K, V]) Delete(key K) (bool, error) {
	if s.standalone.Load() {
		return s.local.Delete(key), nil
	}
	deleted, err := s.ep.RequestDeleteEntries([]K{key}, endpoint.ToLeader())
	if err != nil {
		return false, err
	}
	for _, k := range deleted {
		if k == key {
			return true, nil
		}
	}
	return false, nil
}

func (s *storageImpl[K, V]) DeleteAll(keys []K) ([]K, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	if s.standalone.Load() {
		return s.local.DeleteAll(keys), nil
	}
	return s.ep.RequestDeleteEntries(keys, endpoint.ToLeader())
}

func (s *storageImpl[K, V]) Evict(_ K) error {
	return store.NewError(store.RetCInvalidOperation, "evict is not allowed on a replicated storage")
}

func (s *storageImpl[K, V]) EvictAll(_ []K) error {
	return store.NewError(store.RetCInvalidOperation, "evict is not allowed on a replicated storage")
}

func (s *storageImpl[K, V]) RestoreAll(_ map[K]V) error {
	return store.NewError(store.RetCInvalidOperation, "restore is not allowed on a replicated storage")
}

func (s *storageImpl[K, V]) Keys() ([]K, error) {
	return s.local.Keys(), nil
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

// HandleUpdateEntriesRequest applies a leader-directed write. The broadcast
// to the followers happens before the response, so on an ordered link the
// originator observes its own write by the time the request resolves.
func (s *storageImpl[K, V]) HandleUpdateEntriesRequest(entries map[K]V, source uuid.UUID) map[K]V {
	s.warnIfNotLeader("update", source)
	old := s.local.SetAll(entries)
	if err := s.ep.NotifyUpdateEntries(entries); err != nil {
		s.log.Warnf("broadcasting update notification failed: %v", err)
	}
	return old
}

func (s *storageImpl[K, V]) HandleInsertEntriesRequest(entries map[K]V, source uuid.UUID) map[K]V {
	s.warnIfNotLeader("insert", source)
	existing := s.local.InsertAll(entries)
	inserted := make(map[K]V, len(entries))
	for k, v := range entries {
		if _, blocked := existing[k]; !blocked {
			inserted[k] = v
		}
	}
	if err := s.ep.NotifyInsertEntries(inserted); err != nil {
		s.log.Warnf("broadcasting insert notification failed: %v", err)
	}
	return existing
}

// HandleDeleteEntriesRequest deletes locally and relays every requested key
// to the followers; keys the leader no longer has (an already expired entry,
// for example) must still vanish cluster-wide.
func (s *storageImpl[K, V]) HandleDeleteEntriesRequest(keys []K, source uuid.UUID) []K {
	s.warnIfNotLeader("delete", source)
	deleted := s.local.DeleteAll(keys)
	if err := s.ep.NotifyDeleteEntries(keys); err != nil {
		s.log.Warnf("broadcasting delete notification failed: %v", err)
	}
	return deleted
}

func (s *storageImpl[K, V]) HandleGetEntriesRequest(keys []K, _ uuid.UUID) map[K]V {
	return s.local.GetAll(keys)
}

func (s *storageImpl[K, V]) HandleGetKeysRequest(_ uuid.UUID) []K {
	return s.local.Keys()
}

func (s *storageImpl[K, V]) HandleUpdateEntriesNotification(entries map[K]V, _ uuid.UUID) {
	if len(entries) > 0 {
		s.local.SetAll(entries)
	}
}

func (s *storageImpl[K, V]) HandleInsertEntriesNotification(entries map[K]V, _ uuid.UUID) {
	if len(entries) > 0 {
		s.local.InsertAll(entries)
	}
}

func (s *storageImpl[K, V]) HandleDeleteEntriesNotification(keys []K, _ uuid.UUID) {
	if len(keys) > 0 {
		s.local.DeleteAll(keys)
	}
}

// HandleRemoteEndpointJoined syncs the full storage content to the joining
// peer while this peer leads. The standalone flag is not touched here; a
// formerly lone peer keeps writing locally until a leader is known.
func (s *storageImpl[K, V]) HandleRemoteEndpointJoined(id uuid.UUID) {
	if !s.ep.IsLeader() {
		return
	}
	entries := s.local.GetAll(s.local.Keys())
	if len(entries) == 0 {
		return
	}
	s.log.Infof("syncing %d entries to joined peer %s", len(entries), id)
	s.notifyChunked(entries, id)
}

func (s *storageImpl[K, V]) HandleRemoteEndpointDetached(_ uuid.UUID) {
	if len(s.ep.RemoteEndpointIDs()) == 0 {
		s.standalone.Store(true)
	}
}

// HandleLeaderChanged runs the standalone dump: a peer that operated alone
// pushes everything it accumulated into the cluster once a leader exists.
// Keys that already existed on the leader are logged and keep the leader's
// value; no reconciliation happens.
func (s *storageImpl[K, V]) HandleLeaderChanged(id uuid.UUID, ok bool) {
	if !ok {
		return
	}
	if len(s.ep.RemoteEndpointIDs()) == 0 {
		return
	}
	wasStandalone := s.standalone.Swap(false)

	if id == s.ep.LocalEndpointID() {
		// won the leadership: push our content to the cluster so every
		// follower converges on it, whatever they missed so far
		entries := s.local.GetAll(s.local.Keys())
		if len(entries) == 0 {
			return
		}
		s.log.Infof("syncing %d entries to the cluster as new leader", len(entries))
		s.notifyChunked(entries)
		return
	}

	if !wasStandalone {
		return
	}

	entries := s.local.GetAll(s.local.Keys())
	if len(entries) == 0 {
		return
	}
	s.log.Infof("dumping %d standalone entries into the cluster", len(entries))
	existing, err := s.ep.RequestInsertEntries(entries, endpoint.ToLeader())
	if err != nil {
		s.log.Warnf("standalone dump incomplete: %v", err)
	}
	for k := range existing {
		s.log.Warnf("entry %v already existed on the cluster, keeping the cluster value", k)
	}
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// warnIfNotLeader flags requests that reached a non-leader, which can
// happen briefly around a leader change.
func (s *storageImpl[K, V]) warnIfNotLeader(op string, source uuid.UUID) {
	if !s.ep.IsLeader() {
		s.log.Warnf("processing %s request from %s without leading", op, source)
	}
}

// notifyChunked sends an update notification split by the message budget.
// Without a destination the chunks are broadcast.
func (s *storageImpl[K, V]) notifyChunked(entries map[K]V, dest ...uuid.UUID) {
	chunk := make(map[K]V, s.chunkSize)
	flush := func() {
		if len(chunk) == 0 {
			return
		}
		if err := s.ep.NotifyUpdateEntries(chunk, dest...); err != nil {
			s.log.Warnf("syncing %d entries failed: %v", len(chunk), err)
		}
		chunk = make(map[K]V, s.chunkSize)
	}
	for k, v := range entries {
		chunk[k] = v
		if len(chunk) >= s.chunkSize {
			flush()
		}
	}
	flush()
}
