package raft

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dGrid/lib/transport"
	"github.com/ValentinKolb/dGrid/lib/transport/inproc"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testConfig keeps the protocol fast enough for unit tests
func testConfig() Config {
	return Config{
		MinElectionTimeout: 100 * time.Millisecond,
		Heartbeat:          30 * time.Millisecond,
		PeerTimeout:        500 * time.Millisecond,
	}
}

// testNode is one raft participant wired to an in-process hub
type testNode struct {
	id   uuid.UUID
	node *Node
	link *inproc.Link

	mu      sync.Mutex
	applied []Entry
}

func (n *testNode) appliedEntries() []Entry {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Entry, len(n.applied))
	copy(out, n.applied)
	return out
}

func (n *testNode) stop() {
	n.node.Close()
	_ = n.link.Close()
}

// newCluster starts size nodes on one hub
func newCluster(t *testing.T, hub *inproc.Hub, size int) []*testNode {
	t.Helper()
	nodes := make([]*testNode, 0, size)
	for i := 0; i < size; i++ {
		id := uuid.New()
		link := hub.Join()
		tn := &testNode{id: id, link: link}

		tn.node = New(id, testConfig(), func(msg transport.Message) {
			_ = link.Publish(msg)
		})
		tn.node.OnApply(func(e Entry) {
			tn.mu.Lock()
			tn.applied = append(tn.applied, e)
			tn.mu.Unlock()
		})
		link.Subscribe(func(msg transport.Message) {
			if msg.Protocol != transport.ProtocolRaft {
				return
			}
			if !msg.IsBroadcast() && msg.DestinationID != id {
				return
			}
			tn.node.Receive(msg)
		})
		tn.node.Start()
		nodes = append(nodes, tn)
	}
	t.Cleanup(func() {
		for _, n := range nodes {
			n.stop()
		}
	})
	return nodes
}

// leaders returns the nodes currently considering themselves leader
func leaders(nodes []*testNode) []*testNode {
	var out []*testNode
	for _, n := range nodes {
		if id, ok := n.node.LeaderID(); ok && id == n.id {
			out = append(out, n)
		}
	}
	return out
}

// agreeOnOneLeader reports whether all live nodes see the same single leader
func agreeOnOneLeader(nodes []*testNode) bool {
	if len(leaders(nodes)) != 1 {
		return false
	}
	want, _ := nodes[0].node.LeaderID()
	for _, n := range nodes {
		got, ok := n.node.LeaderID()
		if !ok || got != want {
			return false
		}
	}
	return true
}

func TestElection(t *testing.T) {
	nodes := newCluster(t, inproc.NewHub(), 3)

	require.Eventually(t, func() bool {
		return agreeOnOneLeader(nodes)
	}, 5*time.Second, 20*time.Millisecond)
}

func TestStandaloneNodeStaysFollower(t *testing.T) {
	nodes := newCluster(t, inproc.NewHub(), 1)

	// with nobody to vote, no election can succeed
	time.Sleep(4 * testConfig().MinElectionTimeout)
	_, ok := nodes[0].node.LeaderID()
	assert.False(t, ok)
}

func TestSubmitReplicatesToAllPeers(t *testing.T) {
	nodes := newCluster(t, inproc.NewHub(), 3)

	require.Eventually(t, func() bool {
		return agreeOnOneLeader(nodes)
	}, 5*time.Second, 20*time.Millisecond)
	leader := leaders(nodes)[0]

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, leader.node.Submit(ctx, []byte("cmd-1")))
	require.NoError(t, leader.node.Submit(ctx, []byte("cmd-2")))

	// every node applies both entries in order, exactly once
	require.Eventually(t, func() bool {
		for _, n := range nodes {
			if len(n.appliedEntries()) != 2 {
				return false
			}
		}
		return true
	}, 5*time.Second, 20*time.Millisecond)

	for _, n := range nodes {
		applied := n.appliedEntries()
		assert.Equal(t, []byte("cmd-1"), applied[0].Payload)
		assert.Equal(t, []byte("cmd-2"), applied[1].Payload)
		assert.Equal(t, uint64(1), applied[0].Index)
		assert.Equal(t, uint64(2), applied[1].Index)
	}
}

func TestSubmitOnFollowerFails(t *testing.T) {
	nodes := newCluster(t, inproc.NewHub(), 3)

	require.Eventually(t, func() bool {
		return agreeOnOneLeader(nodes)
	}, 5*time.Second, 20*time.Millisecond)

	var follower *testNode
	for _, n := range nodes {
		if id, _ := n.node.LeaderID(); id != n.id {
			follower = n
			break
		}
	}
	require.NotNil(t, follower)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := follower.node.Submit(ctx, []byte("nope"))
	assert.ErrorIs(t, err, ErrNotLeader)
}

func TestLeaderFailover(t *testing.T) {
	nodes := newCluster(t, inproc.NewHub(), 5)

	require.Eventually(t, func() bool {
		return agreeOnOneLeader(nodes)
	}, 5*time.Second, 20*time.Millisecond)
	old := leaders(nodes)[0]

	// kill the leader; once its heartbeats stop, a survivor's election
	// timeout fires and the four live nodes still form a majority of five
	old.stop()
	var rest []*testNode
	for _, n := range nodes {
		if n != old {
			rest = append(rest, n)
		}
	}

	require.Eventually(t, func() bool {
		if !agreeOnOneLeader(rest) {
			return false
		}
		newLeader, _ := rest[0].node.LeaderID()
		return newLeader != old.id
	}, 10*time.Second, 20*time.Millisecond)
}

func TestPeerDiscoveryAndDetach(t *testing.T) {
	hub := inproc.NewHub()
	nodes := newCluster(t, hub, 2)
	a, b := nodes[0], nodes[1]

	var mu sync.Mutex
	detached := map[uuid.UUID]bool{}
	a.node.OnPeerDetached(func(id uuid.UUID) {
		mu.Lock()
		detached[id] = true
		mu.Unlock()
	})

	require.Eventually(t, func() bool {
		return len(a.node.RemoteIDs()) == 1
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, []uuid.UUID{b.id}, a.node.RemoteIDs())

	b.stop()
	require.Eventually(t, func() bool {
		return len(a.node.RemoteIDs()) == 0
	}, 5*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, detached[b.id])
}
