package grid

import (
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dGrid/lib/transport"
	"github.com/ValentinKolb/dGrid/lib/transport/inproc"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		RequestTimeout:     time.Second,
		MinElectionTimeout: 100 * time.Millisecond,
		Heartbeat:          30 * time.Millisecond,
		PeerTimeout:        500 * time.Millisecond,
	}
}

// newGrids starts size peers on one hub
func newGrids(t *testing.T, hub *inproc.Hub, size int) []*StorageGrid {
	t.Helper()
	grids := make([]*StorageGrid, 0, size)
	links := make([]*inproc.Link, 0, size)
	for i := 0; i < size; i++ {
		link := hub.Join()
		links = append(links, link)
		grids = append(grids, New(link, testConfig()))
	}
	t.Cleanup(func() {
		for i, g := range grids {
			_ = g.Close()
			_ = links[i].Close()
		}
	})
	return grids
}

func TestClusterFormsAndElectsLeader(t *testing.T) {
	grids := newGrids(t, inproc.NewHub(), 3)

	require.Eventually(t, func() bool {
		for _, g := range grids {
			if len(g.RemoteEndpointIDs()) != 2 {
				return false
			}
			if _, ok := g.LeaderID(); !ok {
				return false
			}
		}
		return true
	}, 5*time.Second, 20*time.Millisecond)

	// all peers agree on the leader, and it is one of them
	leader, _ := grids[0].LeaderID()
	ids := map[uuid.UUID]bool{}
	for _, g := range grids {
		got, ok := g.LeaderID()
		require.True(t, ok)
		assert.Equal(t, leader, got)
		ids[g.LocalEndpointID()] = true
	}
	assert.True(t, ids[leader])
}

func TestMemberRouting(t *testing.T) {
	grids := newGrids(t, inproc.NewHub(), 2)
	a, b := grids[0], grids[1]

	var mu sync.Mutex
	var received []transport.Message
	require.NoError(t, b.Register(&Member{
		Protocol:  transport.ProtocolSeparatedStorage,
		StorageID: "routed",
		Accept: func(msg transport.Message) {
			mu.Lock()
			received = append(received, msg)
			mu.Unlock()
		},
	}))

	// a message for a registered member arrives, one without a storage id
	// and one for an unknown member are dropped without harm
	require.NoError(t, a.Publish(transport.Message{
		Protocol:  transport.ProtocolSeparatedStorage,
		StorageID: "routed",
		Type:      transport.MessageTypeUpdateEntriesNotification,
	}))
	require.NoError(t, a.Publish(transport.Message{
		Protocol: transport.ProtocolSeparatedStorage,
		Type:     transport.MessageTypeUpdateEntriesNotification,
	}))
	require.NoError(t, a.Publish(transport.Message{
		Protocol:  transport.ProtocolSeparatedStorage,
		StorageID: "unknown",
		Type:      transport.MessageTypeUpdateEntriesNotification,
	}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "routed", received[0].StorageID)
	assert.Equal(t, a.LocalEndpointID(), received[0].SourceID)
}

func TestDuplicateMemberRefused(t *testing.T) {
	grids := newGrids(t, inproc.NewHub(), 2)

	m := &Member{
		Protocol:  transport.ProtocolSeparatedStorage,
		StorageID: "dup",
		Accept:    func(transport.Message) {},
	}
	require.NoError(t, grids[0].Register(m))
	assert.Error(t, grids[0].Register(m))
}

func TestUnicastNotForUsIsIgnored(t *testing.T) {
	grids := newGrids(t, inproc.NewHub(), 3)
	a, b, c := grids[0], grids[1], grids[2]

	var mu sync.Mutex
	count := 0
	accept := func(g *StorageGrid) {
		_ = g.Register(&Member{
			Protocol:  transport.ProtocolSeparatedStorage,
			StorageID: "uni",
			Accept: func(transport.Message) {
				mu.Lock()
				count++
				mu.Unlock()
			},
		})
	}
	accept(b)
	accept(c)

	require.NoError(t, a.Publish(transport.Message{
		Protocol:      transport.ProtocolSeparatedStorage,
		StorageID:     "uni",
		Type:          transport.MessageTypeUpdateEntriesNotification,
		DestinationID: b.LocalEndpointID(),
	}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	}, 2*time.Second, 10*time.Millisecond)

	// give c a moment to (wrongly) deliver, then re-check
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}
