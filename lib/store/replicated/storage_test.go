package replicated

import (
	"testing"
	"time"

	"github.com/ValentinKolb/dGrid/lib/codec"
	"github.com/ValentinKolb/dGrid/lib/grid"
	"github.com/ValentinKolb/dGrid/lib/store"
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
		MaxCollectedEvents: 100,
		MaxCollectedTime:   20 * time.Millisecond,
	}
}

// testPeer is one grid peer with a replicated storage
type testPeer struct {
	g    *grid.StorageGrid
	link *inproc.Link
	st   store.Storage[string, int]
}

func (p *testPeer) close() {
	_ = p.st.Close()
	_ = p.g.Close()
	_ = p.link.Close()
}

// newPeer attaches one replicated-storage peer to the hub
func newPeer(t *testing.T, hub *inproc.Hub) *testPeer {
	t.Helper()
	link := hub.Join()
	g := grid.New(link, testGridConfig())
	st, err := New(g, Config{StorageID: "test-replicated"},
		codec.NewStringCodec(), codec.NewJSONCodec[int](), nil)
	require.NoError(t, err)
	p := &testPeer{g: g, link: link, st: st}
	t.Cleanup(p.close)
	return p
}

// newCluster starts size peers and waits for membership and a leader
func newCluster(t *testing.T, hub *inproc.Hub, size int) []*testPeer {
	t.Helper()
	peers := make([]*testPeer, 0, size)
	for i := 0; i < size; i++ {
		peers = append(peers, newPeer(t, hub))
	}
	awaitFormed(t, peers)
	return peers
}

// awaitFormed waits until all peers know each other and agree on a leader
func awaitFormed(t *testing.T, peers []*testPeer) {
	t.Helper()
	require.Eventually(t, func() bool {
		var leader string
		for _, p := range peers {
			if len(p.g.RemoteEndpointIDs()) != len(peers)-1 {
				return false
			}
			id, ok := p.g.LeaderID()
			if !ok {
				return false
			}
			if leader == "" {
				leader = id.String()
			} else if leader != id.String() {
				return false
			}
		}
		return true
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWritesReachEveryPeer(t *testing.T) {
	peers := newCluster(t, inproc.NewHub(), 3)
	a, b := peers[0], peers[1]

	_, _, err := a.st.Set("k", 1)
	require.NoError(t, err)

	// the second write sees the first one's value, wherever it lands
	old, loaded, err := b.st.Set("k", 2)
	require.NoError(t, err)
	assert.True(t, loaded)
	assert.Equal(t, 1, old)

	require.Eventually(t, func() bool {
		for _, p := range peers {
			v, ok, _ := p.st.Get("k")
			if !ok || v != 2 {
				return false
			}
		}
		return true
	}, 5*time.Second, 20*time.Millisecond)
}

func TestInsertAllRoundTrip(t *testing.T) {
	peers := newCluster(t, inproc.NewHub(), 3)
	a, c := peers[0], peers[2]

	entries := map[string]int{"r1": 1, "r2": 2, "r3": 3}
	existing, err := a.st.InsertAll(entries)
	require.NoError(t, err)
	assert.Empty(t, existing)

	require.Eventually(t, func() bool {
		got, _ := c.st.GetAll([]string{"r1", "r2", "r3"})
		return len(got) == 3
	}, 5*time.Second, 20*time.Millisecond)

	got, err := c.st.GetAll([]string{"r1", "r2", "r3"})
	require.NoError(t, err)
	assert.Equal(t, entries, got)

	// re-inserting reports the existing entries and keeps their values
	existing, err = c.st.InsertAll(map[string]int{"r1": 9})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"r1": 1}, existing)
}

func TestDeletePropagates(t *testing.T) {
	peers := newCluster(t, inproc.NewHub(), 3)
	a, b := peers[0], peers[1]

	_, _, err := a.st.Set("k", 1)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, ok, _ := b.st.Get("k")
		return ok
	}, 5*time.Second, 20*time.Millisecond)

	deleted, err := b.st.Delete("k")
	require.NoError(t, err)
	assert.True(t, deleted)

	require.Eventually(t, func() bool {
		for _, p := range peers {
			if _, ok, _ := p.st.Get("k"); ok {
				return false
			}
		}
		return true
	}, 5*time.Second, 20*time.Millisecond)

	// deleting again reports nothing deleted
	deleted, err = a.st.Delete("k")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestStandaloneWritesLocally(t *testing.T) {
	hub := inproc.NewHub()
	a := newPeer(t, hub)

	// no peers, no leader: the storage acts as a local store
	_, _, err := a.st.Set("solo", 1)
	require.NoError(t, err)

	v, ok, err := a.st.Get("solo")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 1, a.st.LocalSize())
}

func TestStandaloneDumpOnJoin(t *testing.T) {
	hub := inproc.NewHub()
	a := newPeer(t, hub)

	// accumulate entries while alone
	_, err := a.st.InsertAll(map[string]int{"d1": 1, "d2": 2})
	require.NoError(t, err)

	// two more peers arrive; once a leader is known the standalone peer
	// dumps its entries and the cluster converges on them
	b := newPeer(t, hub)
	c := newPeer(t, hub)
	awaitFormed(t, []*testPeer{a, b, c})

	require.Eventually(t, func() bool {
		for _, p := range []*testPeer{a, b, c} {
			got, _ := p.st.GetAll([]string{"d1", "d2"})
			if len(got) != 2 {
				return false
			}
		}
		return true
	}, 10*time.Second, 50*time.Millisecond)

	for _, p := range []*testPeer{a, b, c} {
		v, ok, _ := p.st.Get("d1")
		require.True(t, ok)
		assert.Equal(t, 1, v)
	}
}

func TestEvictAndRestoreRejected(t *testing.T) {
	peers := newCluster(t, inproc.NewHub(), 2)
	a := peers[0]

	for _, err := range []error{
		a.st.Evict("x"),
		a.st.EvictAll([]string{"x"}),
		a.st.RestoreAll(map[string]int{"x": 1}),
	} {
		var serr *store.Error
		require.ErrorAs(t, err, &serr)
		assert.Equal(t, store.RetCInvalidOperation, serr.Code)
	}
}
