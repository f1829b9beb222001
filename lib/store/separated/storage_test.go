package separated

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

// testPeer is one grid peer with a separated storage
type testPeer struct {
	g    *grid.StorageGrid
	link *inproc.Link
	st   store.Storage[string, int]
}

// close tears one peer down, simulating it leaving the grid
func (p *testPeer) close() {
	_ = p.st.Close()
	_ = p.g.Close()
	_ = p.link.Close()
}

// newCluster starts size peers with a shared separated storage
func newCluster(t *testing.T, hub *inproc.Hub, size int) []*testPeer {
	t.Helper()
	peers := make([]*testPeer, 0, size)
	for i := 0; i < size; i++ {
		link := hub.Join()
		g := grid.New(link, testGridConfig())
		st, err := New(g, Config{StorageID: "test-separated"},
			codec.NewStringCodec(), codec.NewJSONCodec[int](), nil)
		require.NoError(t, err)
		peers = append(peers, &testPeer{g: g, link: link, st: st})
	}
	t.Cleanup(func() {
		for _, p := range peers {
			p.close()
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

func TestOwnershipAndRemoteRead(t *testing.T) {
	peers := newCluster(t, inproc.NewHub(), 3)
	a, b, c := peers[0], peers[1], peers[2]

	_, err := a.st.InsertAll(map[string]int{"x": 1})
	require.NoError(t, err)

	// the inserting peer owns the key, nobody else holds it locally
	assert.ElementsMatch(t, []string{"x"}, a.st.LocalKeys())
	assert.Empty(t, b.st.LocalKeys())
	assert.Empty(t, c.st.LocalKeys())

	// every peer can read it through the grid
	v, ok, err := b.st.Get("x")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestNoDuplicateOwnership(t *testing.T) {
	peers := newCluster(t, inproc.NewHub(), 3)
	a, b := peers[0], peers[1]

	_, err := a.st.InsertAll(map[string]int{"k1": 1, "k2": 2})
	require.NoError(t, err)

	// inserting the same keys elsewhere reports them as existing and does
	// not create a second copy
	existing, err := b.st.InsertAll(map[string]int{"k1": 9, "k2": 9})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"k1": 1, "k2": 2}, existing)
	assert.Empty(t, b.st.LocalKeys())

	total := 0
	for _, p := range peers {
		total += p.st.LocalSize()
	}
	assert.Equal(t, 2, total)
}

func TestUpdateReachesOwner(t *testing.T) {
	peers := newCluster(t, inproc.NewHub(), 3)
	a, b := peers[0], peers[1]

	_, err := a.st.InsertAll(map[string]int{"x": 1})
	require.NoError(t, err)

	// a set on a non-owner updates the owner's copy instead of creating one
	old, loaded, err := b.st.Set("x", 2)
	require.NoError(t, err)
	assert.True(t, loaded)
	assert.Equal(t, 1, old)
	assert.Empty(t, b.st.LocalKeys())

	v, ok, err := a.st.Get("x")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestSetOnUnknownKeyClaimsOwnership(t *testing.T) {
	peers := newCluster(t, inproc.NewHub(), 2)
	b := peers[1]

	old, loaded, err := b.st.Set("fresh", 7)
	require.NoError(t, err)
	assert.False(t, loaded)
	assert.Zero(t, old)
	assert.ElementsMatch(t, []string{"fresh"}, b.st.LocalKeys())
}

func TestDeleteCascadesToOwner(t *testing.T) {
	peers := newCluster(t, inproc.NewHub(), 3)
	a, b := peers[0], peers[1]

	_, err := a.st.InsertAll(map[string]int{"x": 1})
	require.NoError(t, err)

	deleted, err := b.st.Delete("x")
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Empty(t, a.st.LocalKeys())

	_, ok, err := b.st.Get("x")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKeysSeesTheWholeGrid(t *testing.T) {
	peers := newCluster(t, inproc.NewHub(), 3)
	a, b := peers[0], peers[1]

	_, err := a.st.InsertAll(map[string]int{"a": 1})
	require.NoError(t, err)
	_, err = b.st.InsertAll(map[string]int{"b": 2})
	require.NoError(t, err)

	keys, err := a.st.Keys()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, keys)
}

func TestInsertGetAllRoundTrip(t *testing.T) {
	peers := newCluster(t, inproc.NewHub(), 3)
	a, c := peers[0], peers[2]

	entries := map[string]int{"r1": 1, "r2": 2, "r3": 3}
	existing, err := a.st.InsertAll(entries)
	require.NoError(t, err)
	assert.Empty(t, existing)

	got, err := c.st.GetAll([]string{"r1", "r2", "r3"})
	require.NoError(t, err)
	assert.Equal(t, entries, got)
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

func TestOwnershipHandoffOnDetach(t *testing.T) {
	hub := inproc.NewHub()
	peers := newCluster(t, hub, 3)
	a, b, c := peers[0], peers[1], peers[2]

	_, err := a.st.InsertAll(map[string]int{"x": 1})
	require.NoError(t, err)

	// give the event pipeline time to place the backup copy
	time.Sleep(300 * time.Millisecond)

	// the owner leaves; whoever held the backup becomes the new owner
	a.close()

	require.Eventually(t, func() bool {
		return b.st.LocalSize()+c.st.LocalSize() == 1
	}, 5*time.Second, 20*time.Millisecond)

	for _, p := range []*testPeer{b, c} {
		v, ok, err := p.st.Get("x")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 1, v)
	}
}
