package inproc

import (
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dGrid/lib/transport"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects messages delivered to a link
type recorder struct {
	mu   sync.Mutex
	msgs []transport.Message
}

func (r *recorder) handler(msg transport.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func TestDeliveryToOthersOnly(t *testing.T) {
	hub := NewHub()
	a, b, c := hub.Join(), hub.Join(), hub.Join()
	defer a.Close()
	defer b.Close()
	defer c.Close()

	var ra, rb, rc recorder
	a.Subscribe(ra.handler)
	b.Subscribe(rb.handler)
	c.Subscribe(rc.handler)

	require.NoError(t, a.Publish(transport.Message{
		Protocol: transport.ProtocolRaft,
		Type:     transport.MessageTypeRaftHello,
		SourceID: uuid.New(),
	}))

	require.Eventually(t, func() bool {
		return rb.count() == 1 && rc.count() == 1
	}, 2*time.Second, 5*time.Millisecond)

	// the publisher never hears its own message
	assert.Equal(t, 0, ra.count())
}

func TestDropRule(t *testing.T) {
	hub := NewHub()
	a, b := hub.Join(), hub.Join()
	defer a.Close()
	defer b.Close()

	var rb recorder
	b.Subscribe(rb.handler)

	blocked := uuid.New()
	hub.SetDrop(func(msg transport.Message, _ *Link) bool {
		return msg.SourceID == blocked
	})

	require.NoError(t, a.Publish(transport.Message{SourceID: blocked}))
	require.NoError(t, a.Publish(transport.Message{SourceID: uuid.New()}))

	require.Eventually(t, func() bool {
		return rb.count() == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestClosedLinkStopsDelivering(t *testing.T) {
	hub := NewHub()
	a, b := hub.Join(), hub.Join()
	defer a.Close()

	var rb recorder
	b.Subscribe(rb.handler)
	require.NoError(t, b.Close())

	require.NoError(t, a.Publish(transport.Message{SourceID: uuid.New()}))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, rb.count())
}
