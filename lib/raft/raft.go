package raft

import (
	"math/rand"
	"sync"
	"time"

	"github.com/ValentinKolb/dGrid/lib/logging"
	"github.com/ValentinKolb/dGrid/lib/transport"
	"github.com/google/uuid"
)

var log = logging.GetLogger("raft")

// --------------------------------------------------------------------------
// Roles and Helper Types
// --------------------------------------------------------------------------

// Role is the current role of a raft node
type Role int

const (
	Follower Role = iota
	Candidate
	Leader
)

func (r Role) String() string {
	switch r {
	case Follower:
		return "follower"
	case Candidate:
		return "candidate"
	case Leader:
		return "leader"
	default:
		return "unknown"
	}
}

// Entry is one replicated log entry
type Entry struct {
	Index   uint64
	Term    uint64
	Payload []byte
}

// peerState is what the node tracks per known remote peer.
// nextIndex and matchIndex are only meaningful while this node leads.
type peerState struct {
	lastSeen   time.Time
	nextIndex  uint64
	matchIndex uint64
}

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

// Config holds the timing parameters of the coordinator
type Config struct {
	// MinElectionTimeout is the lower bound of the randomized election
	// timeout; the effective timeout is drawn from [min, 2*min).
	MinElectionTimeout time.Duration
	// Heartbeat is the interval of leader AppendEntries and of the
	// membership hello broadcast every non-leading node sends.
	Heartbeat time.Duration
	// PeerTimeout is how long a peer may stay silent before it is
	// considered detached.
	PeerTimeout time.Duration
}

// DefaultConfig returns the default coordinator timing
func DefaultConfig() Config {
	return Config{
		MinElectionTimeout: 500 * time.Millisecond,
		Heartbeat:          150 * time.Millisecond,
		PeerTimeout:        2 * time.Second,
	}
}

// --------------------------------------------------------------------------
// Node
// --------------------------------------------------------------------------

// inboxSize bounds the message queue into the actor loop. The bus may
// always drop, so dropping on overflow here is equally legal.
const inboxSize = 1024

// maxEntriesPerAppend caps how many log entries one append message carries
const maxEntriesPerAppend = 64

// Node is a raft coordinator participant. All raft state is owned by the
// single run goroutine; the public API communicates with it exclusively
// through channels, so no mutex guards the protocol state itself. Only the
// externally observable snapshot (leader, remote peers) sits behind a lock.
type Node struct {
	id      uuid.UUID
	cfg     Config
	publish func(transport.Message)

	inbox    chan transport.Message
	submitCh chan *submitRequest
	stop     chan struct{}
	stopOnce sync.Once
	done     sync.WaitGroup

	// externally observable snapshot
	snapMu     sync.RWMutex
	snapLeader uuid.UUID
	snapPeers  []uuid.UUID

	// notification callbacks, guarded by snapMu
	onLeaderChanged func(id uuid.UUID, ok bool)
	onPeerJoined    func(id uuid.UUID)
	onPeerDetached  func(id uuid.UUID)
	applyFn         func(entry Entry)

	// run-loop owned protocol state
	role             Role
	term             uint64
	votedFor         uuid.UUID
	log              []Entry
	commitIndex      uint64
	lastApplied      uint64
	peers            map[uuid.UUID]*peerState
	votes            map[uuid.UUID]bool
	electionDeadline time.Time
	lastBroadcast    time.Time
	waiters          map[uint64]*submitRequest
	rnd              *rand.Rand
}

// New creates a new raft node. The publish function is the node's only way
// to reach its peers; it must be safe to call from the node's run goroutine.
func New(id uuid.UUID, cfg Config, publish func(transport.Message)) *Node {
	if cfg.MinElectionTimeout <= 0 {
		cfg.MinElectionTimeout = DefaultConfig().MinElectionTimeout
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = DefaultConfig().Heartbeat
	}
	if cfg.PeerTimeout <= 0 {
		cfg.PeerTimeout = DefaultConfig().PeerTimeout
	}

	n := &Node{
		id:       id,
		cfg:      cfg,
		publish:  publish,
		inbox:    make(chan transport.Message, inboxSize),
		submitCh: make(chan *submitRequest),
		stop:     make(chan struct{}),
		role:     Follower,
		peers:    map[uuid.UUID]*peerState{},
		votes:    map[uuid.UUID]bool{},
		waiters:  map[uint64]*submitRequest{},
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	n.resetElectionDeadline()
	return n
}

// OnLeaderChanged registers the leader change callback. It is invoked from
// the run goroutine and must not block.
func (n *Node) OnLeaderChanged(fn func(id uuid.UUID, ok bool)) {
	n.snapMu.Lock()
	n.onLeaderChanged = fn
	n.snapMu.Unlock()
}

// OnPeerJoined registers the peer joined callback (same constraints)
func (n *Node) OnPeerJoined(fn func(id uuid.UUID)) {
	n.snapMu.Lock()
	n.onPeerJoined = fn
	n.snapMu.Unlock()
}

// OnPeerDetached registers the peer detached callback (same constraints)
func (n *Node) OnPeerDetached(fn func(id uuid.UUID)) {
	n.snapMu.Lock()
	n.onPeerDetached = fn
	n.snapMu.Unlock()
}

// OnApply registers the callback receiving committed entries in log order,
// each exactly once.
func (n *Node) OnApply(fn func(entry Entry)) {
	n.snapMu.Lock()
	n.applyFn = fn
	n.snapMu.Unlock()
}

// callbacks returns a consistent snapshot of the registered callbacks
func (n *Node) callbacks() (onLeader func(uuid.UUID, bool), onJoin, onDetach func(uuid.UUID), apply func(Entry)) {
	n.snapMu.RLock()
	defer n.snapMu.RUnlock()
	return n.onLeaderChanged, n.onPeerJoined, n.onPeerDetached, n.applyFn
}

// Start launches the run goroutine
func (n *Node) Start() {
	n.done.Add(1)
	go n.run()
}

// Close stops the node. Outstanding Submit calls fail with ErrClosed.
func (n *Node) Close() {
	n.stopOnce.Do(func() {
		close(n.stop)
	})
	n.done.Wait()
}

// Receive hands an inbound raft message to the node. Never blocks; the
// message is dropped when the node is saturated or stopped.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (n *Node) Receive(msg transport.Message) {
	select {
	case n.inbox <- msg:
	case <-n.stop:
	default:
		log.Warnf("inbox full, dropping %s message from %s", msg.Type, msg.SourceID)
	}
}

// LocalID returns this node's endpoint identifier
func (n *Node) LocalID() uuid.UUID {
	return n.id
}

// LeaderID returns the currently known leader. The boolean return value is
// false while no leader is known.
func (n *Node) LeaderID() (uuid.UUID, bool) {
	n.snapMu.RLock()
	defer n.snapMu.RUnlock()
	return n.snapLeader, n.snapLeader != uuid.Nil
}

// RemoteIDs returns a snapshot of the currently known remote peers
func (n *Node) RemoteIDs() []uuid.UUID {
	n.snapMu.RLock()
	defer n.snapMu.RUnlock()
	out := make([]uuid.UUID, len(n.snapPeers))
	copy(out, n.snapPeers)
	return out
}

// --------------------------------------------------------------------------
// Run Loop
// --------------------------------------------------------------------------

// tickResolution is how often the loop re-evaluates its timers
func (n *Node) tickResolution() time.Duration {
	res := n.cfg.Heartbeat / 3
	if res < 5*time.Millisecond {
		res = 5 * time.Millisecond
	}
	return res
}

// run is the actor loop owning all protocol state
func (n *Node) run() {
	defer n.done.Done()

	ticker := time.NewTicker(n.tickResolution())
	defer ticker.Stop()

	for {
		select {
		case <-n.stop:
			n.failAllWaiters(ErrClosed)
			return
		case msg := <-n.inbox:
			n.handleMessage(msg)
		case req := <-n.submitCh:
			n.handleSubmit(req)
		case <-ticker.C:
			n.tick()
		}
	}
}

// tick drives timers: membership sweep, hello broadcast, leader heartbeat
// and election timeout.
func (n *Node) tick() {
	now := time.Now()
	n.sweepPeers(now)

	if now.Sub(n.lastBroadcast) >= n.cfg.Heartbeat {
		n.lastBroadcast = now
		if n.role == Leader {
			n.broadcastAppend()
		} else {
			n.publish(transport.Message{
				Protocol: transport.ProtocolRaft,
				Type:     transport.MessageTypeRaftHello,
				SourceID: n.id,
				Term:     n.term,
			})
		}
	}

	// a node alone in the grid stays follower; there is nobody to vote
	if n.role != Leader && len(n.peers) > 0 && now.After(n.electionDeadline) {
		n.startElection()
	}
}

// --------------------------------------------------------------------------
// Membership
// --------------------------------------------------------------------------

// notePeer registers activity of a remote peer, discovering it on first
// contact.
func (n *Node) notePeer(id uuid.UUID) {
	if id == uuid.Nil || id == n.id {
		return
	}
	p, ok := n.peers[id]
	if !ok {
		p = &peerState{nextIndex: n.lastIndex() + 1}
		n.peers[id] = p
		n.updatePeerSnapshot()
		log.Infof("%s discovered peer %s (now %d peers)", n.shortID(), shortID(id), len(n.peers))
		if _, onJoin, _, _ := n.callbacks(); onJoin != nil {
			onJoin(id)
		}
	}
	p.lastSeen = time.Now()
}

// sweepPeers removes peers that have been silent for the peer timeout
func (n *Node) sweepPeers(now time.Time) {
	for id, p := range n.peers {
		if now.Sub(p.lastSeen) < n.cfg.PeerTimeout {
			continue
		}
		delete(n.peers, id)
		n.updatePeerSnapshot()
		log.Infof("%s lost peer %s (now %d peers)", n.shortID(), shortID(id), len(n.peers))

		if leader, ok := n.LeaderID(); ok && leader == id {
			n.setLeader(uuid.Nil)
		}
		if _, _, onDetach, _ := n.callbacks(); onDetach != nil {
			onDetach(id)
		}
	}
}

// updatePeerSnapshot refreshes the externally observable peer list
func (n *Node) updatePeerSnapshot() {
	ids := make([]uuid.UUID, 0, len(n.peers))
	for id := range n.peers {
		ids = append(ids, id)
	}
	n.snapMu.Lock()
	n.snapPeers = ids
	n.snapMu.Unlock()
}

// setLeader updates the leader snapshot and fires the change notification
func (n *Node) setLeader(id uuid.UUID) {
	n.snapMu.Lock()
	changed := n.snapLeader != id
	n.snapLeader = id
	n.snapMu.Unlock()

	if changed {
		if id == uuid.Nil {
			log.Infof("%s leader lost (term %d)", n.shortID(), n.term)
		} else {
			log.Infof("%s sees leader %s (term %d)", n.shortID(), shortID(id), n.term)
		}
		if onLeader, _, _, _ := n.callbacks(); onLeader != nil {
			onLeader(id, id != uuid.Nil)
		}
	}
}

// --------------------------------------------------------------------------
// Message Dispatch
// --------------------------------------------------------------------------

// handleMessage processes one inbound raft message on the run goroutine
func (n *Node) handleMessage(msg transport.Message) {
	if msg.SourceID == n.id {
		return
	}
	n.notePeer(msg.SourceID)

	// a higher term always demotes, whatever the message kind
	if msg.Term > n.term {
		n.term = msg.Term
		n.votedFor = uuid.Nil
		if n.role != Follower {
			n.stepDown()
		}
	}

	switch msg.Type {
	case transport.MessageTypeRaftHello:
		// membership only, handled by notePeer above
	case transport.MessageTypeRaftVoteRequest:
		n.handleVoteRequest(msg)
	case transport.MessageTypeRaftVoteResponse:
		n.handleVoteResponse(msg)
	case transport.MessageTypeRaftAppendRequest:
		n.handleAppendRequest(msg)
	case transport.MessageTypeRaftAppendResponse:
		n.handleAppendResponse(msg)
	default:
		log.Warnf("unexpected raft message type %q from %s", msg.Type, msg.SourceID)
	}
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func (n *Node) shortID() string {
	return shortID(n.id)
}

// shortID abbreviates an endpoint id for log lines
func shortID(id uuid.UUID) string {
	s := id.String()
	if len(s) > 8 {
		return s[:8]
	}
	return s
}
