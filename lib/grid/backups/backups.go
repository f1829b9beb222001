package backups

import (
	"fmt"
	"sync/atomic"

	"github.com/ValentinKolb/dGrid/lib/codec"
	"github.com/ValentinKolb/dGrid/lib/grid"
	"github.com/ValentinKolb/dGrid/lib/grid/endpoint"
	"github.com/ValentinKolb/dGrid/lib/logging"
	"github.com/ValentinKolb/dGrid/lib/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sirupsen/logrus"
)

// --------------------------------------------------------------------------
// Options and Metrics
// --------------------------------------------------------------------------

// Options configures a backup storage
type Options struct {
	// StorageID is the identifier of the storage being backed up (required)
	StorageID string
}

// Metrics is the observable state of a backup storage
type Metrics struct {
	// StoredEntries is the number of entries this peer holds on behalf of
	// other peers.
	StoredEntries int
}

// --------------------------------------------------------------------------
// Backup Storage
// --------------------------------------------------------------------------

// Backups keeps one remote copy of every entry its storage owns, so
// ownership can be transferred when the owning peer leaves the grid.
//
// Two maps drive it: placements records, for every locally owned key, which
// remote peer holds its copy (chosen round-robin, stable per key); held
// stores the copies this peer keeps on behalf of others, grouped by owner.
// The guarantee is single-failure tolerance: after Save returns, some peer
// holds the entry tagged with this peer's endpoint id — unless that holder
// itself fails before the next save.
type Backups[K comparable, V any] struct {
	endpoint.NopHandler[K, V]

	ep  *endpoint.Endpoint[K, V]
	log *logrus.Entry

	placements *xsync.MapOf[K, uuid.UUID]
	held       *xsync.MapOf[uuid.UUID, *xsync.MapOf[K, V]]
	rr         atomic.Uint64
	heldCount  atomic.Int64
}

// New creates the backup storage for the named storage. It always builds
// its own endpoint on the backup-storage protocol; backup traffic never
// shares an endpoint with regular storage traffic.
func New[K comparable, V any](
	g *grid.StorageGrid,
	opts Options,
	keyCodec codec.Codec[K],
	valueCodec codec.Codec[V],
) (*Backups[K, V], error) {
	ep, err := endpoint.New(g, endpoint.Options{
		StorageID: opts.StorageID,
		Protocol:  transport.ProtocolBackupStorage,
	}, keyCodec, valueCodec)
	if err != nil {
		return nil, err
	}

	b := &Backups[K, V]{
		ep:         ep,
		log:        logging.GetLogger("backups").WithField("storage", opts.StorageID),
		placements: xsync.NewMapOf[K, uuid.UUID](),
		held:       xsync.NewMapOf[uuid.UUID, *xsync.MapOf[K, V]](),
	}
	if err := ep.Listen(b); err != nil {
		return nil, err
	}

	_ = metrics.GetOrCreateGauge(
		fmt.Sprintf(`dgrid_backup_stored_entries{storage=%q,endpoint=%q}`,
			opts.StorageID, g.LocalEndpointID()),
		func() float64 { return float64(b.heldCount.Load()) })

	return b, nil
}

// --------------------------------------------------------------------------
// Owner Side (what this peer saved elsewhere)
// --------------------------------------------------------------------------

// Save places a copy of each entry on one remote peer. Keys that already
// have a holder keep it; new keys are assigned round-robin over the live
// peers. With no remote peers the save is a no-op — the guarantee starts
// with the second peer.
func (b *Backups[K, V]) Save(entries map[K]V) {
	remotes := b.ep.RemoteEndpointIDs()
	if len(remotes) == 0 {
		return
	}

	groups := map[uuid.UUID]map[K]V{}
	for k, v := range entries {
		holder, ok := b.placements.Load(k)
		if !ok || !containsID(remotes, holder) {
			holder = remotes[int(b.rr.Add(1))%len(remotes)]
			b.placements.Store(k, holder)
		}
		group := groups[holder]
		if group == nil {
			group = map[K]V{}
			groups[holder] = group
		}
		group[k] = v
	}

	for holder, group := range groups {
		if err := b.ep.NotifyBackupSave(holder, group); err != nil {
			b.log.Warnf("saving %d backup entries to %s failed: %v", len(group), holder, err)
		}
	}
}

// Delete removes the backup copies of the given keys from their holders
func (b *Backups[K, V]) Delete(keys []K) {
	b.forgetAndNotify(keys, transport.MessageTypeBackupDelete)
}

// Evict removes the backup copies of evicted keys from their holders
func (b *Backups[K, V]) Evict(keys []K) {
	b.forgetAndNotify(keys, transport.MessageTypeBackupEvict)
}

// forgetAndNotify drops local placements and tells each holder to drop its
// copies.
func (b *Backups[K, V]) forgetAndNotify(keys []K, msgType transport.MessageType) {
	groups := map[uuid.UUID][]K{}
	for _, k := range keys {
		holder, ok := b.placements.LoadAndDelete(k)
		if !ok {
			continue
		}
		groups[holder] = append(groups[holder], k)
	}
	for holder, group := range groups {
		var err error
		if msgType == transport.MessageTypeBackupDelete {
			err = b.ep.NotifyBackupDelete(holder, group)
		} else {
			err = b.ep.NotifyBackupEvict(holder, group)
		}
		if err != nil {
			b.log.Warnf("dropping %d backup entries on %s failed: %v", len(group), holder, err)
		}
	}
}

// --------------------------------------------------------------------------
// Holder Side (what this peer keeps for others)
// --------------------------------------------------------------------------

// Extract removes and returns every entry this peer holds on behalf of the
// given peer. Called when that peer detaches; the caller restores the
// entries into its own local store and becomes their new owner.
func (b *Backups[K, V]) Extract(owner uuid.UUID) map[K]V {
	held, ok := b.held.LoadAndDelete(owner)
	if !ok {
		return map[K]V{}
	}
	out := map[K]V{}
	held.Range(func(k K, v V) bool {
		out[k] = v
		return true
	})
	b.heldCount.Add(-int64(len(out)))
	return out
}

// Held asks every peer for the entries held on behalf of this endpoint.
// Used to reconcile after the endpoint rejoined the grid.
func (b *Backups[K, V]) Held() (map[K]V, error) {
	return b.ep.RequestBackupEntries()
}

// Stats returns the backup storage metrics
func (b *Backups[K, V]) Stats() Metrics {
	return Metrics{StoredEntries: int(b.heldCount.Load())}
}

// Clear drops all placements and all held copies
func (b *Backups[K, V]) Clear() {
	b.placements.Clear()
	b.held.Clear()
	b.heldCount.Store(0)
}

// Close detaches the backup endpoint from the grid
func (b *Backups[K, V]) Close() error {
	b.ep.Close()
	return nil
}

// --------------------------------------------------------------------------
// Inbound Handlers (docu see endpoint.Handler)
// --------------------------------------------------------------------------

func (b *Backups[K, V]) HandleBackupSaveNotification(entries map[K]V, source uuid.UUID) {
	held, _ := b.held.LoadOrStore(source, xsync.NewMapOf[K, V]())
	for k, v := range entries {
		if _, loaded := held.LoadAndStore(k, v); !loaded {
			b.heldCount.Add(1)
		}
	}
}

func (b *Backups[K, V]) HandleBackupDeleteNotification(keys []K, source uuid.UUID) {
	b.dropHeld(keys, source)
}

func (b *Backups[K, V]) HandleBackupEvictNotification(keys []K, source uuid.UUID) {
	b.dropHeld(keys, source)
}

func (b *Backups[K, V]) HandleBackupGetRequest(source uuid.UUID) map[K]V {
	held, ok := b.held.Load(source)
	if !ok {
		return nil
	}
	out := map[K]V{}
	held.Range(func(k K, v V) bool {
		out[k] = v
		return true
	})
	return out
}

func (b *Backups[K, V]) HandleRemoteEndpointDetached(id uuid.UUID) {
	// copies we placed on the detached peer are gone; forgetting the
	// placement makes the next save pick a live holder
	lost := 0
	b.placements.Range(func(k K, holder uuid.UUID) bool {
		if holder == id {
			b.placements.Delete(k)
			lost++
		}
		return true
	})
	if lost > 0 {
		b.log.Warnf("lost %d backup copies held by detached peer %s", lost, id)
	}
	// entries held on behalf of the detached peer stay: the owning
	// storage extracts them to complete the ownership handoff
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// dropHeld removes held copies of the given keys for one owner
func (b *Backups[K, V]) dropHeld(keys []K, owner uuid.UUID) {
	held, ok := b.held.Load(owner)
	if !ok {
		return
	}
	for _, k := range keys {
		if _, loaded := held.LoadAndDelete(k); loaded {
			b.heldCount.Add(-1)
		}
	}
}

// containsID reports whether the id list contains the given id
func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
