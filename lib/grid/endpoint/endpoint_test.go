package endpoint

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dGrid/lib/codec"
	"github.com/ValentinKolb/dGrid/lib/grid"
	"github.com/ValentinKolb/dGrid/lib/store"
	"github.com/ValentinKolb/dGrid/lib/transport"
	"github.com/ValentinKolb/dGrid/lib/transport/inproc"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testGridConfig keeps cluster formation fast in tests
func testGridConfig() grid.Config {
	return grid.Config{
		RequestTimeout:     time.Second,
		MinElectionTimeout: 100 * time.Millisecond,
		Heartbeat:          30 * time.Millisecond,
		PeerTimeout:        500 * time.Millisecond,
	}
}

// countingTransport counts published messages by type
type countingTransport struct {
	transport.Transport
	mu     sync.Mutex
	counts map[transport.MessageType]int
}

func newCountingTransport(inner transport.Transport) *countingTransport {
	return &countingTransport{Transport: inner, counts: map[transport.MessageType]int{}}
}

func (c *countingTransport) Publish(msg transport.Message) error {
	c.mu.Lock()
	c.counts[msg.Type]++
	c.mu.Unlock()
	return c.Transport.Publish(msg)
}

func (c *countingTransport) count(t transport.MessageType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[t]
}

// mapHandler answers requests from a plain map
type mapHandler struct {
	NopHandler[string, int]
	mu   sync.Mutex
	data map[string]int
}

func newMapHandler() *mapHandler {
	return &mapHandler{data: map[string]int{}}
}

func (h *mapHandler) put(key string, value int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.data[key] = value
}

func (h *mapHandler) size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.data)
}

func (h *mapHandler) HandleGetEntriesRequest(keys []string, _ uuid.UUID) map[string]int {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := map[string]int{}
	for _, k := range keys {
		if v, ok := h.data[k]; ok {
			out[k] = v
		}
	}
	return out
}

func (h *mapHandler) HandleGetKeysRequest(_ uuid.UUID) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.data))
	for k := range h.data {
		out = append(out, k)
	}
	return out
}

func (h *mapHandler) HandleUpdateEntriesRequest(entries map[string]int, _ uuid.UUID) map[string]int {
	h.mu.Lock()
	defer h.mu.Unlock()
	old := map[string]int{}
	for k, v := range entries {
		if prev, ok := h.data[k]; ok {
			old[k] = prev
		}
		h.data[k] = v
	}
	return old
}

func (h *mapHandler) HandleDeleteEntriesRequest(keys []string, _ uuid.UUID) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var deleted []string
	for _, k := range keys {
		if _, ok := h.data[k]; ok {
			delete(h.data, k)
			deleted = append(deleted, k)
		}
	}
	return deleted
}

// testPeer is one grid peer with a map-backed endpoint
type testPeer struct {
	g    *grid.StorageGrid
	link *inproc.Link
	tr   *countingTransport
	ep   *Endpoint[string, int]
	h    *mapHandler
}

// newPeers builds size peers on one hub and waits for the grid to form
func newPeers(t *testing.T, hub *inproc.Hub, size int, opts Options) []*testPeer {
	t.Helper()
	peers := make([]*testPeer, 0, size)
	for i := 0; i < size; i++ {
		link := hub.Join()
		tr := newCountingTransport(link)
		g := grid.New(tr, testGridConfig())

		ep, err := New(g, opts, codec.NewStringCodec(), codec.NewJSONCodec[int]())
		require.NoError(t, err)
		h := newMapHandler()
		require.NoError(t, ep.Listen(h))

		peers = append(peers, &testPeer{g: g, link: link, tr: tr, ep: ep, h: h})
	}
	t.Cleanup(func() {
		for _, p := range peers {
			p.ep.Close()
			_ = p.g.Close()
			_ = p.link.Close()
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

func defaultOpts() Options {
	return Options{StorageID: "test-storage", Protocol: transport.ProtocolSeparatedStorage}
}

func TestBroadcastRequestMergesResponses(t *testing.T) {
	peers := newPeers(t, inproc.NewHub(), 3, defaultOpts())
	a, b, c := peers[0], peers[1], peers[2]

	b.h.put("x", 1)
	c.h.put("y", 2)

	result, err := a.ep.RequestGetEntries([]string{"x", "y", "z"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"x": 1, "y": 2}, result)
}

func TestZeroKeysEmitNothing(t *testing.T) {
	peers := newPeers(t, inproc.NewHub(), 2, defaultOpts())
	a := peers[0]

	result, err := a.ep.RequestGetEntries(nil)
	require.NoError(t, err)
	assert.Empty(t, result)
	assert.Equal(t, 0, a.tr.count(transport.MessageTypeGetEntriesRequest))
}

func TestBatchingSplitsIntoChunkedRequests(t *testing.T) {
	opts := defaultOpts()
	opts.MaxMessageKeys = 10
	opts.MaxMessageValues = 10
	peers := newPeers(t, inproc.NewHub(), 2, opts)
	a, b := peers[0], peers[1]

	entries := map[string]int{}
	for i := 0; i < 25; i++ {
		key := string(rune('a'+i/5)) + string(rune('0'+i%5))
		entries[key] = i
		b.h.put(key, i+100) // pre-existing values become the old values
	}

	old, err := a.ep.RequestUpdateEntries(entries)
	require.NoError(t, err)

	// 25 entries with a budget of 10 per message means exactly 3 requests,
	// and the merged result covers all 25 keys
	assert.Equal(t, 3, a.tr.count(transport.MessageTypeUpdateEntriesRequest))
	assert.Len(t, old, 25)
	assert.Equal(t, 25, b.h.size())
}

func TestTimeoutReturnsPartialResult(t *testing.T) {
	opts := defaultOpts()
	opts.RequestTimeout = 200 * time.Millisecond
	hub := inproc.NewHub()
	peers := newPeers(t, hub, 3, opts)
	a, b, c := peers[0], peers[1], peers[2]

	b.h.put("x", 1)
	c.h.put("y", 2)

	// drop every storage message from a to b; raft traffic stays alive so
	// the peer is not detached
	aID := a.g.LocalEndpointID()
	hub.SetDrop(func(msg transport.Message, to *inproc.Link) bool {
		return msg.SourceID == aID && msg.Protocol != transport.ProtocolRaft && to == b.link
	})

	start := time.Now()
	result, err := a.ep.RequestGetEntries([]string{"x", "y"})
	elapsed := time.Since(start)

	var timeout *store.TimeoutError
	require.True(t, errors.As(err, &timeout))
	assert.Equal(t, []uuid.UUID{b.g.LocalEndpointID()}, timeout.Missing)
	assert.Equal(t, map[string]int{"y": 2}, result)
	assert.Less(t, elapsed, 2*time.Second)
	assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
}

func TestDetachedResponderResolvesWaiter(t *testing.T) {
	opts := defaultOpts()
	opts.RequestTimeout = 5 * time.Second
	hub := inproc.NewHub()
	peers := newPeers(t, hub, 2, opts)
	a, b := peers[0], peers[1]

	// b goes silent for storage traffic, then dies entirely; the waiter
	// must resolve via the detach notification, well before the deadline
	aID := a.g.LocalEndpointID()
	hub.SetDrop(func(msg transport.Message, to *inproc.Link) bool {
		return msg.SourceID == aID && msg.Protocol != transport.ProtocolRaft && to == b.link
	})

	done := make(chan time.Duration, 1)
	go func() {
		start := time.Now()
		_, _ = a.ep.RequestGetEntries([]string{"x"})
		done <- time.Since(start)
	}()

	time.Sleep(50 * time.Millisecond)
	_ = b.g.Close()
	_ = b.link.Close()

	select {
	case elapsed := <-done:
		assert.Less(t, elapsed, 3*time.Second)
	case <-time.After(4 * time.Second):
		t.Fatal("request did not resolve after responder detached")
	}
}

func TestUnicastRequest(t *testing.T) {
	peers := newPeers(t, inproc.NewHub(), 3, defaultOpts())
	a, b, c := peers[0], peers[1], peers[2]

	b.h.put("x", 1)
	c.h.put("x", 99)

	result, err := a.ep.RequestGetEntries([]string{"x"}, ToEndpoint(b.g.LocalEndpointID()))
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"x": 1}, result)
}

func TestMissingStorageConfigRefused(t *testing.T) {
	hub := inproc.NewHub()
	link := hub.Join()
	g := grid.New(link, testGridConfig())
	t.Cleanup(func() {
		_ = g.Close()
		_ = link.Close()
	})

	_, err := New(g, Options{Protocol: transport.ProtocolSeparatedStorage},
		codec.NewStringCodec(), codec.NewJSONCodec[int]())
	var serr *store.Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, store.RetCMissingConfig, serr.Code)
}
