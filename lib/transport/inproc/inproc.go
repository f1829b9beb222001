package inproc

import (
	"sync"

	"github.com/ValentinKolb/dGrid/lib/logging"
	"github.com/ValentinKolb/dGrid/lib/transport"
)

var log = logging.GetLogger("transport/inproc")

// linkBufferSize is the per-link inbound queue. Messages beyond this are
// dropped, which the bus contract allows.
const linkBufferSize = 1024

// --------------------------------------------------------------------------
// Hub
// --------------------------------------------------------------------------

// DropFunc decides whether a message is dropped on its way to a link.
// Returning true suppresses delivery. Used by tests to simulate lossy or
// partitioned networks.
type DropFunc func(msg transport.Message, to *Link) bool

// Hub is an in-process message bus connecting any number of links.
// A message published on one link is delivered to every other link.
type Hub struct {
	mu    sync.RWMutex
	links []*Link
	drop  DropFunc
}

// NewHub creates a new in-process hub
func NewHub() *Hub {
	return &Hub{}
}

// Join attaches a new link to the hub. The returned link implements
// transport.Transport and is ready to use.
func (h *Hub) Join() *Link {
	l := &Link{
		hub:   h,
		inbox: make(chan transport.Message, linkBufferSize),
		stop:  make(chan struct{}),
	}
	go l.pump()

	h.mu.Lock()
	h.links = append(h.links, l)
	h.mu.Unlock()
	return l
}

// SetDrop installs a drop rule for all future deliveries.
// Passing nil removes the rule.
func (h *Hub) SetDrop(fn DropFunc) {
	h.mu.Lock()
	h.drop = fn
	h.mu.Unlock()
}

// publish fans the message out to every link except the publishing one
func (h *Hub) publish(from *Link, msg transport.Message) {
	h.mu.RLock()
	links := make([]*Link, len(h.links))
	copy(links, h.links)
	drop := h.drop
	h.mu.RUnlock()

	for _, l := range links {
		if l == from {
			continue
		}
		if drop != nil && drop(msg, l) {
			continue
		}
		l.deliver(msg)
	}
}

// detach removes a link from the hub
func (h *Hub) detach(link *Link) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, l := range h.links {
		if l == link {
			h.links = append(h.links[:i], h.links[i+1:]...)
			return
		}
	}
}

// --------------------------------------------------------------------------
// Link (implements transport.Transport)
// --------------------------------------------------------------------------

// Link is one participant's attachment to a hub
type Link struct {
	hub      *Hub
	inbox    chan transport.Message
	stop     chan struct{}
	stopOnce sync.Once

	handlerMu sync.RWMutex
	handler   transport.Handler
}

// pump delivers queued messages to the subscribed handler in order
func (l *Link) pump() {
	for {
		select {
		case <-l.stop:
			return
		case msg := <-l.inbox:
			l.handlerMu.RLock()
			handler := l.handler
			l.handlerMu.RUnlock()
			if handler != nil {
				handler(msg)
			}
		}
	}
}

// deliver enqueues a message for this link, dropping it when the queue
// is full or the link is closed
func (l *Link) deliver(msg transport.Message) {
	select {
	case <-l.stop:
	case l.inbox <- msg:
	default:
		log.Warnf("inbox full, dropping %s/%s message", msg.Protocol, msg.Type)
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.Transport)
// --------------------------------------------------------------------------

func (l *Link) Publish(msg transport.Message) error {
	select {
	case <-l.stop:
		return nil
	default:
	}
	l.hub.publish(l, msg)
	return nil
}

func (l *Link) Subscribe(handler transport.Handler) {
	l.handlerMu.Lock()
	l.handler = handler
	l.handlerMu.Unlock()
}

func (l *Link) Close() error {
	l.stopOnce.Do(func() {
		l.hub.detach(l)
		close(l.stop)
	})
	return nil
}
