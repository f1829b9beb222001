package endpoint

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dGrid/lib/codec"
	"github.com/ValentinKolb/dGrid/lib/grid"
	"github.com/ValentinKolb/dGrid/lib/logging"
	"github.com/ValentinKolb/dGrid/lib/store"
	"github.com/ValentinKolb/dGrid/lib/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sirupsen/logrus"
)

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

// Options configures a storage endpoint. Zero values inherit the grid
// defaults.
type Options struct {
	// StorageID names the storage this endpoint serves (required)
	StorageID string
	// Protocol tags every message of this endpoint (required)
	Protocol transport.Protocol
	// RequestTimeout is the deadline of every correlated request
	RequestTimeout time.Duration
	// MaxMessageKeys and MaxMessageValues bound the per-message payload
	MaxMessageKeys   int
	MaxMessageValues int
}

// --------------------------------------------------------------------------
// Endpoint
// --------------------------------------------------------------------------

// Endpoint is the per-storage messaging front-end. It turns typed operations
// into correlated request/response exchanges over the message bus and
// dispatches inbound messages to the storage's Handler.
//
// Thread-safety: all request and notify methods are safe for concurrent use.
type Endpoint[K comparable, V any] struct {
	grid       *grid.StorageGrid
	opts       Options
	keyCodec   codec.Codec[K]
	valueCodec codec.Codec[V]

	handler Handler[K, V]
	waiters *xsync.MapOf[uuid.UUID, *waiter]

	closed  atomic.Bool
	closeCh chan struct{}

	log      *logrus.Entry
	requests *metrics.Counter
	timeouts *metrics.Counter
}

// New creates an endpoint on the given grid. The endpoint is inert until
// Listen attaches a handler and registers it for inbound traffic.
func New[K comparable, V any](
	g *grid.StorageGrid,
	opts Options,
	keyCodec codec.Codec[K],
	valueCodec codec.Codec[V],
) (*Endpoint[K, V], error) {
	if opts.StorageID == "" {
		return nil, store.NewError(store.RetCMissingConfig, "endpoint requires a storage id")
	}
	if opts.Protocol == "" {
		return nil, store.NewError(store.RetCMissingConfig, "endpoint requires a protocol tag")
	}
	if keyCodec == nil || valueCodec == nil {
		return nil, store.NewError(store.RetCMissingConfig, "endpoint requires key and value codecs")
	}

	cfg := g.Config()
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = cfg.RequestTimeout
	}
	if opts.MaxMessageKeys <= 0 {
		opts.MaxMessageKeys = cfg.MaxMessageKeys
	}
	if opts.MaxMessageValues <= 0 {
		opts.MaxMessageValues = cfg.MaxMessageValues
	}

	return &Endpoint[K, V]{
		grid:       g,
		opts:       opts,
		keyCodec:   keyCodec,
		valueCodec: valueCodec,
		waiters:    xsync.NewMapOf[uuid.UUID, *waiter](),
		closeCh:    make(chan struct{}),
		log:        logging.GetLogger("endpoint").WithField("storage", opts.StorageID),
		requests: metrics.GetOrCreateCounter(
			fmt.Sprintf(`dgrid_endpoint_requests_total{storage=%q}`, opts.StorageID)),
		timeouts: metrics.GetOrCreateCounter(
			fmt.Sprintf(`dgrid_endpoint_timeouts_total{storage=%q}`, opts.StorageID)),
	}, nil
}

// Listen attaches the inbound handler and registers the endpoint on the
// grid. Must be called exactly once before any request is issued.
func (e *Endpoint[K, V]) Listen(handler Handler[K, V]) error {
	e.handler = handler
	return e.grid.Register(&grid.Member{
		Protocol:  e.opts.Protocol,
		StorageID: e.opts.StorageID,
		Accept:    e.accept,
		OnLeaderChanged: func(id uuid.UUID, ok bool) {
			e.handler.HandleLeaderChanged(id, ok)
		},
		OnPeerJoined: func(id uuid.UUID) {
			e.handler.HandleRemoteEndpointJoined(id)
		},
		OnPeerDetached: e.onPeerDetached,
	})
}

// Close unregisters the endpoint and cancels all outstanding waiters
func (e *Endpoint[K, V]) Close() {
	if e.closed.Swap(true) {
		return
	}
	close(e.closeCh)
	e.grid.Unregister(e.opts.Protocol, e.opts.StorageID)
}

// --------------------------------------------------------------------------
// Accessors
// --------------------------------------------------------------------------

// StorageID returns the storage identifier this endpoint serves
func (e *Endpoint[K, V]) StorageID() string {
	return e.opts.StorageID
}

// LocalEndpointID returns the local peer's endpoint identifier
func (e *Endpoint[K, V]) LocalEndpointID() uuid.UUID {
	return e.grid.LocalEndpointID()
}

// RemoteEndpointIDs returns the currently known remote peers
func (e *Endpoint[K, V]) RemoteEndpointIDs() []uuid.UUID {
	return e.grid.RemoteEndpointIDs()
}

// LeaderID returns the current raft leader, if one is known
func (e *Endpoint[K, V]) LeaderID() (uuid.UUID, bool) {
	return e.grid.LeaderID()
}

// IsLeader reports whether the local peer currently leads the grid
func (e *Endpoint[K, V]) IsLeader() bool {
	id, ok := e.grid.LeaderID()
	return ok && id == e.grid.LocalEndpointID()
}

// --------------------------------------------------------------------------
// Destination Selection
// --------------------------------------------------------------------------

type destMode int

const (
	destBroadcast destMode = iota
	destUnicast
	destLeader
)

type requestSpec struct {
	mode   destMode
	target uuid.UUID
}

// RequestOption adjusts the destination of a request
type RequestOption func(*requestSpec)

// ToEndpoint addresses the request to a single peer
func ToEndpoint(id uuid.UUID) RequestOption {
	return func(s *requestSpec) {
		s.mode = destUnicast
		s.target = id
	}
}

// ToLeader addresses the request to the current raft leader
func ToLeader() RequestOption {
	return func(s *requestSpec) {
		s.mode = destLeader
	}
}

// resolveTargets turns a request spec into the expected responder set.
// An empty set with a nil error means there is nobody to ask and the
// request resolves immediately with an empty aggregate.
func (e *Endpoint[K, V]) resolveTargets(spec requestSpec) ([]uuid.UUID, error) {
	switch spec.mode {
	case destUnicast:
		return []uuid.UUID{spec.target}, nil
	case destLeader:
		leader, ok := e.grid.LeaderID()
		if !ok {
			return nil, store.NewError(store.RetCInternalError, "no leader known")
		}
		return []uuid.UUID{leader}, nil
	default:
		return e.grid.RemoteEndpointIDs(), nil
	}
}

// --------------------------------------------------------------------------
// Request Core
// --------------------------------------------------------------------------

// send issues one correlated request chunk and waits for the full responder
// set or the deadline. The returned parts are the raw per-peer responses.
func (e *Endpoint[K, V]) send(
	msgType transport.MessageType,
	keys, values [][]byte,
	spec requestSpec,
) ([]part, error) {
	if e.closed.Load() {
		return nil, store.NewError(store.RetCCancelled, "endpoint closed")
	}

	targets, err := e.resolveTargets(spec)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, nil
	}

	// a request addressed only to ourselves is answered inline; this is the
	// leader-directed path on the leader itself
	if len(targets) == 1 && targets[0] == e.grid.LocalEndpointID() {
		respKeys, respValues := e.handleRequest(msgType, keys, values, e.grid.LocalEndpointID())
		return []part{{source: targets[0], keys: respKeys, values: respValues}}, nil
	}

	cid := uuid.New()
	w := newWaiter(targets)
	e.waiters.Store(cid, w)
	defer e.waiters.Delete(cid)

	msg := transport.Message{
		Protocol:      e.opts.Protocol,
		Type:          msgType,
		StorageID:     e.opts.StorageID,
		CorrelationID: cid,
		Keys:          keys,
		Values:        values,
	}
	if spec.mode != destBroadcast {
		msg.DestinationID = targets[0]
	}

	e.requests.Inc()
	if err := e.grid.Publish(msg); err != nil {
		return nil, store.NewError(store.RetCInternalError, fmt.Sprintf("publish failed: %v", err))
	}

	timer := time.NewTimer(e.opts.RequestTimeout)
	defer timer.Stop()

	select {
	case <-w.done:
		return w.results(), nil
	case <-timer.C:
		missing := w.expire()
		if missing == nil {
			// resolved in the race between deadline and completion
			return w.results(), nil
		}
		e.timeouts.Inc()
		e.log.Warnf("%s request timed out, %d endpoint(s) silent", msgType, len(missing))
		return w.results(), &store.TimeoutError{Missing: missing}
	case <-e.closeCh:
		return nil, store.NewError(store.RetCCancelled, "endpoint closed")
	}
}

// requestChunked runs a batched request over all chunks and merges the
// parts. A timeout on any chunk is carried to the caller together with the
// partial aggregate.
func (e *Endpoint[K, V]) requestChunked(
	msgType transport.MessageType,
	keys, values [][]byte,
	chunkSize int,
	opts []RequestOption,
) ([]part, error) {
	var spec requestSpec
	for _, o := range opts {
		o(&spec)
	}

	var all []part
	var firstErr error
	for c := newChunks(keys, values, chunkSize); ; {
		k, v, ok := c.next()
		if !ok {
			break
		}
		parts, err := e.send(msgType, k, v, spec)
		all = append(all, parts...)
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return all, firstErr
}

// --------------------------------------------------------------------------
// Encode / Decode / Merge Helpers
// --------------------------------------------------------------------------

func (e *Endpoint[K, V]) encodeKeys(keys []K) ([][]byte, error) {
	return codec.EncodeAll(e.keyCodec, keys)
}

func (e *Endpoint[K, V]) encodeEntries(entries map[K]V) (keys, values [][]byte, err error) {
	keys = make([][]byte, 0, len(entries))
	values = make([][]byte, 0, len(entries))
	for k, v := range entries {
		kb, err := e.keyCodec.Encode(k)
		if err != nil {
			return nil, nil, err
		}
		vb, err := e.valueCodec.Encode(v)
		if err != nil {
			return nil, nil, err
		}
		keys = append(keys, kb)
		values = append(values, vb)
	}
	return keys, values, nil
}

// decodeKeys decodes a key list, dropping undecodable elements
func (e *Endpoint[K, V]) decodeKeys(raw [][]byte) []K {
	keys := make([]K, 0, len(raw))
	for _, b := range raw {
		k, err := e.keyCodec.Decode(b)
		if err != nil {
			e.log.Warnf("dropping undecodable key: %v", err)
			continue
		}
		keys = append(keys, k)
	}
	return keys
}

// decodeEntries decodes parallel key/value lists, dropping undecodable pairs
func (e *Endpoint[K, V]) decodeEntries(rawKeys, rawValues [][]byte) map[K]V {
	if len(rawKeys) != len(rawValues) {
		e.log.Warnf("dropping message with %d keys but %d values", len(rawKeys), len(rawValues))
		return map[K]V{}
	}
	entries := make(map[K]V, len(rawKeys))
	for i := range rawKeys {
		k, err := e.keyCodec.Decode(rawKeys[i])
		if err != nil {
			e.log.Warnf("dropping undecodable key: %v", err)
			continue
		}
		v, err := e.valueCodec.Decode(rawValues[i])
		if err != nil {
			e.log.Warnf("dropping undecodable value for key %v: %v", k, err)
			continue
		}
		entries[k] = v
	}
	return entries
}

// mergeParts folds response parts into one map. Key collisions across
// responders resolve last-writer-wins with a warning.
func (e *Endpoint[K, V]) mergeParts(parts []part) map[K]V {
	out := map[K]V{}
	for _, p := range parts {
		for k, v := range e.decodeEntries(p.keys, p.values) {
			if _, dup := out[k]; dup {
				e.log.Warnf("duplicate key %v in responses, keeping the later value", k)
			}
			out[k] = v
		}
	}
	return out
}

// mergeKeyParts folds key-only response parts into one deduplicated list
func (e *Endpoint[K, V]) mergeKeyParts(parts []part) []K {
	seen := map[K]struct{}{}
	var out []K
	for _, p := range parts {
		for _, k := range e.decodeKeys(p.keys) {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	return out
}

// --------------------------------------------------------------------------
// Outbound Requests
// --------------------------------------------------------------------------

// RequestGetEntries asks the destination peers for the given keys and
// merges their answers. A zero-key request resolves immediately without
// touching the bus.
func (e *Endpoint[K, V]) RequestGetEntries(keys []K, opts ...RequestOption) (map[K]V, error) {
	if len(keys) == 0 {
		return map[K]V{}, nil
	}
	encoded, err := e.encodeKeys(keys)
	if err != nil {
		return nil, err
	}
	parts, reqErr := e.requestChunked(transport.MessageTypeGetEntriesRequest, encoded, nil, e.opts.MaxMessageKeys, opts)
	return e.mergeParts(parts), reqErr
}

// RequestGetKeys asks the destination peers for all their keys
func (e *Endpoint[K, V]) RequestGetKeys(opts ...RequestOption) ([]K, error) {
	var spec requestSpec
	for _, o := range opts {
		o(&spec)
	}
	parts, reqErr := e.send(transport.MessageTypeGetKeysRequest, nil, nil, spec)
	return e.mergeKeyParts(parts), reqErr
}

// RequestUpdateEntries sends entries to update and merges the old values
// the destination peers report back.
func (e *Endpoint[K, V]) RequestUpdateEntries(entries map[K]V, opts ...RequestOption) (map[K]V, error) {
	if len(entries) == 0 {
		return map[K]V{}, nil
	}
	keys, values, err := e.encodeEntries(entries)
	if err != nil {
		return nil, err
	}
	parts, reqErr := e.requestChunked(transport.MessageTypeUpdateEntriesRequest, keys, values, e.entryChunkSize(), opts)
	return e.mergeParts(parts), reqErr
}

// RequestInsertEntries sends entries to insert and merges the existing
// entries that blocked insertion.
func (e *Endpoint[K, V]) RequestInsertEntries(entries map[K]V, opts ...RequestOption) (map[K]V, error) {
	if len(entries) == 0 {
		return map[K]V{}, nil
	}
	keys, values, err := e.encodeEntries(entries)
	if err != nil {
		return nil, err
	}
	parts, reqErr := e.requestChunked(transport.MessageTypeInsertEntriesRequest, keys, values, e.entryChunkSize(), opts)
	return e.mergeParts(parts), reqErr
}

// RequestDeleteEntries sends keys to delete and merges the keys the
// destination peers actually deleted.
func (e *Endpoint[K, V]) RequestDeleteEntries(keys []K, opts ...RequestOption) ([]K, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	encoded, err := e.encodeKeys(keys)
	if err != nil {
		return nil, err
	}
	parts, reqErr := e.requestChunked(transport.MessageTypeDeleteEntriesRequest, encoded, nil, e.opts.MaxMessageKeys, opts)
	return e.mergeKeyParts(parts), reqErr
}

// RequestBackupEntries asks all peers for the backup entries they hold on
// behalf of this endpoint; used to reconcile after a rejoin.
func (e *Endpoint[K, V]) RequestBackupEntries(opts ...RequestOption) (map[K]V, error) {
	var spec requestSpec
	for _, o := range opts {
		o(&spec)
	}
	parts, reqErr := e.send(transport.MessageTypeBackupGetRequest, nil, nil, spec)
	return e.mergeParts(parts), reqErr
}

// entryChunkSize is the per-message budget for entry-carrying requests
func (e *Endpoint[K, V]) entryChunkSize() int {
	if e.opts.MaxMessageValues < e.opts.MaxMessageKeys {
		return e.opts.MaxMessageValues
	}
	return e.opts.MaxMessageKeys
}

// --------------------------------------------------------------------------
// Outbound Notifications
// --------------------------------------------------------------------------

// notify publishes a fire-and-forget message. An empty destination list
// broadcasts.
func (e *Endpoint[K, V]) notify(msgType transport.MessageType, keys, values [][]byte, dest []uuid.UUID) error {
	if e.closed.Load() {
		return store.NewError(store.RetCCancelled, "endpoint closed")
	}
	msg := transport.Message{
		Protocol:  e.opts.Protocol,
		Type:      msgType,
		StorageID: e.opts.StorageID,
		Keys:      keys,
		Values:    values,
	}
	if len(dest) == 0 {
		return e.grid.Publish(msg)
	}
	for _, id := range dest {
		msg.DestinationID = id
		if err := e.grid.Publish(msg); err != nil {
			return err
		}
	}
	return nil
}

// NotifyUpdateEntries broadcasts (or unicasts) an update notification
func (e *Endpoint[K, V]) NotifyUpdateEntries(entries map[K]V, dest ...uuid.UUID) error {
	if len(entries) == 0 {
		return nil
	}
	keys, values, err := e.encodeEntries(entries)
	if err != nil {
		return err
	}
	return e.notify(transport.MessageTypeUpdateEntriesNotification, keys, values, dest)
}

// NotifyInsertEntries broadcasts (or unicasts) an insert notification
func (e *Endpoint[K, V]) NotifyInsertEntries(entries map[K]V, dest ...uuid.UUID) error {
	if len(entries) == 0 {
		return nil
	}
	keys, values, err := e.encodeEntries(entries)
	if err != nil {
		return err
	}
	return e.notify(transport.MessageTypeInsertEntriesNotification, keys, values, dest)
}

// NotifyDeleteEntries broadcasts (or unicasts) a delete notification
func (e *Endpoint[K, V]) NotifyDeleteEntries(keys []K, dest ...uuid.UUID) error {
	if len(keys) == 0 {
		return nil
	}
	encoded, err := e.encodeKeys(keys)
	if err != nil {
		return err
	}
	return e.notify(transport.MessageTypeDeleteEntriesNotification, encoded, nil, dest)
}

// NotifyBackupSave sends backup copies to the chosen holder peer
func (e *Endpoint[K, V]) NotifyBackupSave(dest uuid.UUID, entries map[K]V) error {
	keys, values, err := e.encodeEntries(entries)
	if err != nil {
		return err
	}
	return e.notify(transport.MessageTypeBackupSave, keys, values, []uuid.UUID{dest})
}

// NotifyBackupDelete tells a holder peer to drop backup copies
func (e *Endpoint[K, V]) NotifyBackupDelete(dest uuid.UUID, keys []K) error {
	encoded, err := e.encodeKeys(keys)
	if err != nil {
		return err
	}
	return e.notify(transport.MessageTypeBackupDelete, encoded, nil, []uuid.UUID{dest})
}

// NotifyBackupEvict tells a holder peer that keys were evicted
func (e *Endpoint[K, V]) NotifyBackupEvict(dest uuid.UUID, keys []K) error {
	encoded, err := e.encodeKeys(keys)
	if err != nil {
		return err
	}
	return e.notify(transport.MessageTypeBackupEvict, encoded, nil, []uuid.UUID{dest})
}

// --------------------------------------------------------------------------
// Inbound Dispatch
// --------------------------------------------------------------------------

// accept routes one inbound message of this endpoint's protocol
func (e *Endpoint[K, V]) accept(msg transport.Message) {
	switch msg.Type {
	case transport.MessageTypeGetEntriesResponse,
		transport.MessageTypeGetKeysResponse,
		transport.MessageTypeUpdateEntriesResponse,
		transport.MessageTypeInsertEntriesResponse,
		transport.MessageTypeDeleteEntriesResponse,
		transport.MessageTypeBackupGetResponse:
		if w, ok := e.waiters.Load(msg.CorrelationID); ok {
			w.addPart(msg.SourceID, msg.Keys, msg.Values)
		}

	case transport.MessageTypeGetEntriesRequest,
		transport.MessageTypeGetKeysRequest,
		transport.MessageTypeUpdateEntriesRequest,
		transport.MessageTypeInsertEntriesRequest,
		transport.MessageTypeDeleteEntriesRequest,
		transport.MessageTypeBackupGetRequest:
		respKeys, respValues := e.handleRequest(msg.Type, msg.Keys, msg.Values, msg.SourceID)
		e.respond(msg, respKeys, respValues)

	case transport.MessageTypeUpdateEntriesNotification:
		e.handler.HandleUpdateEntriesNotification(e.decodeEntries(msg.Keys, msg.Values), msg.SourceID)
	case transport.MessageTypeInsertEntriesNotification:
		e.handler.HandleInsertEntriesNotification(e.decodeEntries(msg.Keys, msg.Values), msg.SourceID)
	case transport.MessageTypeDeleteEntriesNotification:
		e.handler.HandleDeleteEntriesNotification(e.decodeKeys(msg.Keys), msg.SourceID)

	case transport.MessageTypeBackupSave:
		e.handler.HandleBackupSaveNotification(e.decodeEntries(msg.Keys, msg.Values), msg.SourceID)
	case transport.MessageTypeBackupDelete:
		e.handler.HandleBackupDeleteNotification(e.decodeKeys(msg.Keys), msg.SourceID)
	case transport.MessageTypeBackupEvict:
		e.handler.HandleBackupEvictNotification(e.decodeKeys(msg.Keys), msg.SourceID)

	default:
		e.log.Warnf("unexpected message type %q from %s, dropping", msg.Type, msg.SourceID)
	}
}

// handleRequest executes a request against the handler and returns the
// encoded response payload. Shared between the bus path and the local
// loopback path.
func (e *Endpoint[K, V]) handleRequest(
	msgType transport.MessageType,
	rawKeys, rawValues [][]byte,
	source uuid.UUID,
) (respKeys, respValues [][]byte) {
	switch msgType {
	case transport.MessageTypeGetEntriesRequest:
		found := e.handler.HandleGetEntriesRequest(e.decodeKeys(rawKeys), source)
		return e.mustEncodeEntries(found)
	case transport.MessageTypeGetKeysRequest:
		keys := e.handler.HandleGetKeysRequest(source)
		return e.mustEncodeKeys(keys), nil
	case transport.MessageTypeUpdateEntriesRequest:
		old := e.handler.HandleUpdateEntriesRequest(e.decodeEntries(rawKeys, rawValues), source)
		return e.mustEncodeEntries(old)
	case transport.MessageTypeInsertEntriesRequest:
		existing := e.handler.HandleInsertEntriesRequest(e.decodeEntries(rawKeys, rawValues), source)
		return e.mustEncodeEntries(existing)
	case transport.MessageTypeDeleteEntriesRequest:
		deleted := e.handler.HandleDeleteEntriesRequest(e.decodeKeys(rawKeys), source)
		return e.mustEncodeKeys(deleted), nil
	case transport.MessageTypeBackupGetRequest:
		held := e.handler.HandleBackupGetRequest(source)
		return e.mustEncodeEntries(held)
	default:
		return nil, nil
	}
}

// respond answers a request message with the given payload
func (e *Endpoint[K, V]) respond(req transport.Message, keys, values [][]byte) {
	respType, ok := responseType(req.Type)
	if !ok {
		return
	}
	err := e.grid.Publish(transport.Message{
		Protocol:      e.opts.Protocol,
		Type:          respType,
		StorageID:     e.opts.StorageID,
		DestinationID: req.SourceID,
		CorrelationID: req.CorrelationID,
		Keys:          keys,
		Values:        values,
	})
	if err != nil {
		e.log.Warnf("publishing %s failed: %v", respType, err)
	}
}

// responseType maps a request type to its response type
func responseType(t transport.MessageType) (transport.MessageType, bool) {
	switch t {
	case transport.MessageTypeGetEntriesRequest:
		return transport.MessageTypeGetEntriesResponse, true
	case transport.MessageTypeGetKeysRequest:
		return transport.MessageTypeGetKeysResponse, true
	case transport.MessageTypeUpdateEntriesRequest:
		return transport.MessageTypeUpdateEntriesResponse, true
	case transport.MessageTypeInsertEntriesRequest:
		return transport.MessageTypeInsertEntriesResponse, true
	case transport.MessageTypeDeleteEntriesRequest:
		return transport.MessageTypeDeleteEntriesResponse, true
	case transport.MessageTypeBackupGetRequest:
		return transport.MessageTypeBackupGetResponse, true
	default:
		return "", false
	}
}

// mustEncodeEntries encodes a response map, dropping unencodable entries.
// A response must always be sent, so encoding failures only shrink it.
func (e *Endpoint[K, V]) mustEncodeEntries(entries map[K]V) (keys, values [][]byte) {
	for k, v := range entries {
		kb, err := e.keyCodec.Encode(k)
		if err != nil {
			e.log.Warnf("dropping unencodable response key %v: %v", k, err)
			continue
		}
		vb, err := e.valueCodec.Encode(v)
		if err != nil {
			e.log.Warnf("dropping unencodable response value for %v: %v", k, err)
			continue
		}
		keys = append(keys, kb)
		values = append(values, vb)
	}
	return keys, values
}

// mustEncodeKeys encodes a response key list, dropping unencodable keys
func (e *Endpoint[K, V]) mustEncodeKeys(keys []K) [][]byte {
	out := make([][]byte, 0, len(keys))
	for _, k := range keys {
		kb, err := e.keyCodec.Encode(k)
		if err != nil {
			e.log.Warnf("dropping unencodable response key %v: %v", k, err)
			continue
		}
		out = append(out, kb)
	}
	return out
}

// onPeerDetached satisfies the detached peer's slot in every outstanding
// waiter, then forwards the notification to the handler.
func (e *Endpoint[K, V]) onPeerDetached(id uuid.UUID) {
	e.waiters.Range(func(_ uuid.UUID, w *waiter) bool {
		w.dropResponder(id)
		return true
	})
	e.handler.HandleRemoteEndpointDetached(id)
}
