package grid

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"sync"

	"github.com/ValentinKolb/dGrid/lib/logging"
	"github.com/ValentinKolb/dGrid/lib/raft"
	"github.com/ValentinKolb/dGrid/lib/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
)

var log = logging.GetLogger("grid")

// --------------------------------------------------------------------------
// Members
// --------------------------------------------------------------------------

// Member is a message consumer registered on the grid, typically a storage
// endpoint. The Accept function receives every bus message matching the
// member's protocol and storage id; the notification callbacks are invoked
// from the grid's notification pump (never from the raft loop), so they may
// perform blocking work such as issuing requests.
type Member struct {
	Protocol  transport.Protocol
	StorageID string

	Accept          func(msg transport.Message)
	OnLeaderChanged func(id uuid.UUID, ok bool)
	OnPeerJoined    func(id uuid.UUID)
	OnPeerDetached  func(id uuid.UUID)
}

// memberKey routes inbound messages: one storage id can appear under
// several protocols (a separated storage and its backup endpoint share it).
func memberKey(protocol transport.Protocol, storageID string) string {
	return string(protocol) + "/" + storageID
}

// --------------------------------------------------------------------------
// Notifications
// --------------------------------------------------------------------------

type notificationKind int

const (
	notifyLeaderChanged notificationKind = iota
	notifyPeerJoined
	notifyPeerDetached
)

type notification struct {
	kind   notificationKind
	id     uuid.UUID
	leader bool
}

// membershipRecord is the payload of internally submitted raft commands
// recording membership transitions in the replicated log.
type membershipRecord struct {
	Joined bool
	PeerID uuid.UUID
}

// --------------------------------------------------------------------------
// StorageGrid
// --------------------------------------------------------------------------

// StorageGrid is one peer's attachment to the storage grid. It owns the bus
// subscription, the raft coordinator and the registry of storage endpoints,
// and it routes every inbound message to the right consumer.
//
// Lifecycle: create the transport first, then the grid, then the storages.
// Close the storages before closing the grid.
type StorageGrid struct {
	cfg Config
	id  uuid.UUID
	tr  transport.Transport

	raftNode *raft.Node
	members  *xsync.MapOf[string, *Member]

	notifyCh chan notification
	stop     chan struct{}
	stopOnce sync.Once
	done     sync.WaitGroup

	droppedNoStorage *metrics.Counter
	droppedProtocol  *metrics.Counter
	published        *metrics.Counter
}

// New creates a grid peer on the given transport and starts its raft
// coordinator. The peer gets a fresh endpoint identifier; restarting a
// process always yields a new identity.
func New(tr transport.Transport, cfg Config) *StorageGrid {
	cfg = cfg.withDefaults()
	id := uuid.New()

	g := &StorageGrid{
		cfg:      cfg,
		id:       id,
		tr:       tr,
		members:  xsync.NewMapOf[string, *Member](),
		notifyCh: make(chan notification, 256),
		stop:     make(chan struct{}),

		droppedNoStorage: metrics.GetOrCreateCounter(`dgrid_messages_dropped_total{reason="missing_storage_id"}`),
		droppedProtocol:  metrics.GetOrCreateCounter(`dgrid_messages_dropped_total{reason="unknown_member"}`),
		published:        metrics.GetOrCreateCounter(`dgrid_messages_published_total`),
	}

	g.raftNode = raft.New(id, raft.Config{
		MinElectionTimeout: cfg.MinElectionTimeout,
		Heartbeat:          cfg.Heartbeat,
		PeerTimeout:        cfg.PeerTimeout,
	}, func(msg transport.Message) {
		if err := tr.Publish(msg); err != nil {
			log.Warnf("publishing raft message failed: %v", err)
		}
	})
	g.raftNode.OnLeaderChanged(func(id uuid.UUID, ok bool) {
		g.enqueueNotification(notification{kind: notifyLeaderChanged, id: id, leader: ok})
	})
	g.raftNode.OnPeerJoined(func(id uuid.UUID) {
		g.enqueueNotification(notification{kind: notifyPeerJoined, id: id})
	})
	g.raftNode.OnPeerDetached(func(id uuid.UUID) {
		g.enqueueNotification(notification{kind: notifyPeerDetached, id: id})
	})
	g.raftNode.OnApply(func(e raft.Entry) {
		var rec membershipRecord
		if err := gob.NewDecoder(bytes.NewReader(e.Payload)).Decode(&rec); err != nil {
			log.Debugf("ignoring unreadable log entry %d: %v", e.Index, err)
			return
		}
		log.Debugf("membership log entry %d applied: joined=%t peer=%s", e.Index, rec.Joined, rec.PeerID)
	})

	tr.Subscribe(g.dispatch)
	g.raftNode.Start()

	g.done.Add(1)
	go g.pumpNotifications()

	log.Infof("grid peer %s up", g.id)
	return g
}

// --------------------------------------------------------------------------
// Accessors
// --------------------------------------------------------------------------

// Config returns the grid-level defaults
func (g *StorageGrid) Config() Config {
	return g.cfg
}

// LocalEndpointID returns this peer's endpoint identifier
func (g *StorageGrid) LocalEndpointID() uuid.UUID {
	return g.id
}

// RemoteEndpointIDs returns the currently known remote peers
func (g *StorageGrid) RemoteEndpointIDs() []uuid.UUID {
	return g.raftNode.RemoteIDs()
}

// LeaderID returns the current raft leader, if one is known
func (g *StorageGrid) LeaderID() (uuid.UUID, bool) {
	return g.raftNode.LeaderID()
}

// --------------------------------------------------------------------------
// Publishing and Registration
// --------------------------------------------------------------------------

// Publish stamps the message with the local endpoint id and hands it to
// the bus.
func (g *StorageGrid) Publish(msg transport.Message) error {
	msg.SourceID = g.id
	g.published.Inc()
	return g.tr.Publish(msg)
}

// Register adds a member to the routing table. Registering a second member
// for the same protocol and storage id is an error.
func (g *StorageGrid) Register(m *Member) error {
	key := memberKey(m.Protocol, m.StorageID)
	if _, loaded := g.members.LoadOrStore(key, m); loaded {
		return fmt.Errorf("member %q already registered", key)
	}
	log.Debugf("registered member %s", key)
	return nil
}

// Unregister removes a member from the routing table
func (g *StorageGrid) Unregister(protocol transport.Protocol, storageID string) {
	g.members.Delete(memberKey(protocol, storageID))
}

// --------------------------------------------------------------------------
// Inbound Dispatch
// --------------------------------------------------------------------------

// dispatch routes one inbound bus message. Runs on the transport's
// delivery goroutine.
func (g *StorageGrid) dispatch(msg transport.Message) {
	// the bus may loop our own messages back (UDP multicast does)
	if msg.SourceID == g.id {
		return
	}
	// unicast messages for somebody else are not ours to process
	if !msg.IsBroadcast() && msg.DestinationID != g.id {
		return
	}

	if msg.Protocol == transport.ProtocolRaft {
		g.raftNode.Receive(msg)
		return
	}

	if msg.StorageID == "" {
		g.droppedNoStorage.Inc()
		log.Warnf("dropping %s/%s message without storage id from %s", msg.Protocol, msg.Type, msg.SourceID)
		return
	}

	member, ok := g.members.Load(memberKey(msg.Protocol, msg.StorageID))
	if !ok {
		g.droppedProtocol.Inc()
		log.Warnf("no member for %s/%s, dropping %s message from %s", msg.Protocol, msg.StorageID, msg.Type, msg.SourceID)
		return
	}
	member.Accept(msg)
}

// --------------------------------------------------------------------------
// Notification Pump
// --------------------------------------------------------------------------

// enqueueNotification hands a raft notification to the pump without ever
// blocking the raft loop.
func (g *StorageGrid) enqueueNotification(n notification) {
	select {
	case g.notifyCh <- n:
	case <-g.stop:
	default:
		log.Warnf("notification queue full, dropping %d for %s", n.kind, n.id)
	}
}

// pumpNotifications fans raft notifications out to every member. Members
// may block here (a replicated storage dumps its state on leader change),
// which is why this runs on its own goroutine.
func (g *StorageGrid) pumpNotifications() {
	defer g.done.Done()
	for {
		select {
		case <-g.stop:
			return
		case n := <-g.notifyCh:
			g.fanOut(n)
			g.recordMembership(n)
		}
	}
}

// fanOut delivers one notification to all registered members
func (g *StorageGrid) fanOut(n notification) {
	g.members.Range(func(_ string, m *Member) bool {
		switch n.kind {
		case notifyLeaderChanged:
			if m.OnLeaderChanged != nil {
				m.OnLeaderChanged(n.id, n.leader)
			}
		case notifyPeerJoined:
			if m.OnPeerJoined != nil {
				m.OnPeerJoined(n.id)
			}
		case notifyPeerDetached:
			if m.OnPeerDetached != nil {
				m.OnPeerDetached(n.id)
			}
		}
		return true
	})
}

// recordMembership appends membership transitions to the replicated log
// while this peer leads. Best-effort: losing the race for leadership just
// means another peer records the same transition.
func (g *StorageGrid) recordMembership(n notification) {
	if n.kind == notifyLeaderChanged {
		return
	}
	if leader, ok := g.LeaderID(); !ok || leader != g.id {
		return
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(membershipRecord{
		Joined: n.kind == notifyPeerJoined,
		PeerID: n.id,
	}); err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.RequestTimeout)
	defer cancel()
	if err := g.raftNode.Submit(ctx, buf.Bytes()); err != nil {
		log.Debugf("membership record not committed: %v", err)
	}
}

// --------------------------------------------------------------------------
// Shutdown
// --------------------------------------------------------------------------

// Close stops the notification pump and the raft coordinator. All storages
// built on this grid must be closed first. The bus subscription is not
// removed; the transport is owned by the caller and stays open.
func (g *StorageGrid) Close() error {
	g.stopOnce.Do(func() {
		close(g.stop)
		g.raftNode.Close()
	})
	g.done.Wait()
	log.Infof("grid peer %s down", g.id)
	return nil
}
