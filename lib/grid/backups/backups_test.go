package backups

import (
	"testing"
	"time"

	"github.com/ValentinKolb/dGrid/lib/codec"
	"github.com/ValentinKolb/dGrid/lib/grid"
	"github.com/ValentinKolb/dGrid/lib/transport/inproc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGridConfig() grid.Config {
	return grid.Config{
		RequestTimeout:     time.Second,
		MinElectionTimeout: 100 * time.Millisecond,
		Heartbeat:          30 * time.Millisecond,
		PeerTimeout:        500 * time.Millisecond,
	}
}

// testPeer is one grid peer with a backup storage
type testPeer struct {
	g  *grid.StorageGrid
	bk *Backups[string, int]
}

// newCluster starts size peers with a shared backup storage
func newCluster(t *testing.T, size int) []*testPeer {
	t.Helper()
	hub := inproc.NewHub()
	peers := make([]*testPeer, 0, size)
	var links []*inproc.Link
	for i := 0; i < size; i++ {
		link := hub.Join()
		links = append(links, link)
		g := grid.New(link, testGridConfig())
		bk, err := New(g, Options{StorageID: "test-backups"},
			codec.NewStringCodec(), codec.NewJSONCodec[int]())
		require.NoError(t, err)
		peers = append(peers, &testPeer{g: g, bk: bk})
	}
	t.Cleanup(func() {
		for i, p := range peers {
			_ = p.bk.Close()
			_ = p.g.Close()
			_ = links[i].Close()
		}
	})

	require.Eventually(t, func() bool {
		for _, p := range peers {
			if len(p.g.RemoteEndpointIDs()) != size-1 {
				return false
			}
		}
		return true
	}, 5*time.Second, 20*time.Millisecond)
	return peers
}

// totalHeld sums the stored entries over all peers except the owner
func totalHeld(peers []*testPeer, owner *testPeer) int {
	total := 0
	for _, p := range peers {
		if p != owner {
			total += p.bk.Stats().StoredEntries
		}
	}
	return total
}

func TestSaveAndExtract(t *testing.T) {
	peers := newCluster(t, 2)
	a, b := peers[0], peers[1]

	a.bk.Save(map[string]int{"x": 1, "y": 2})

	require.Eventually(t, func() bool {
		return b.bk.Stats().StoredEntries == 2
	}, 5*time.Second, 20*time.Millisecond)

	extracted := b.bk.Extract(a.g.LocalEndpointID())
	assert.Equal(t, map[string]int{"x": 1, "y": 2}, extracted)
	assert.Equal(t, 0, b.bk.Stats().StoredEntries)

	// a second extract finds nothing
	assert.Empty(t, b.bk.Extract(a.g.LocalEndpointID()))
}

func TestSaveSpreadsOverPeers(t *testing.T) {
	peers := newCluster(t, 3)
	a := peers[0]

	entries := map[string]int{}
	for i := 0; i < 10; i++ {
		entries[string(rune('a'+i))] = i
	}
	a.bk.Save(entries)

	// every entry lands on exactly one other peer
	require.Eventually(t, func() bool {
		return totalHeld(peers, a) == 10
	}, 5*time.Second, 20*time.Millisecond)
}

func TestStableHolderPerKey(t *testing.T) {
	peers := newCluster(t, 3)
	a := peers[0]

	a.bk.Save(map[string]int{"stable": 1})
	require.Eventually(t, func() bool {
		return totalHeld(peers, a) == 1
	}, 5*time.Second, 20*time.Millisecond)

	// re-saving the same key keeps its holder: the total stays at one copy
	a.bk.Save(map[string]int{"stable": 2})
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, totalHeld(peers, a))
}

func TestDeleteDropsHeldCopies(t *testing.T) {
	peers := newCluster(t, 2)
	a, b := peers[0], peers[1]

	a.bk.Save(map[string]int{"x": 1})
	require.Eventually(t, func() bool {
		return b.bk.Stats().StoredEntries == 1
	}, 5*time.Second, 20*time.Millisecond)

	a.bk.Delete([]string{"x"})
	require.Eventually(t, func() bool {
		return b.bk.Stats().StoredEntries == 0
	}, 5*time.Second, 20*time.Millisecond)
}

func TestRejoinReconciliation(t *testing.T) {
	peers := newCluster(t, 2)
	a, b := peers[0], peers[1]

	a.bk.Save(map[string]int{"x": 1})
	require.Eventually(t, func() bool {
		return b.bk.Stats().StoredEntries == 1
	}, 5*time.Second, 20*time.Millisecond)

	// the owner can ask the grid what is held on its behalf
	held, err := a.bk.Held()
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"x": 1}, held)
}
