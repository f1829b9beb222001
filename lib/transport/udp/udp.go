package udp

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"net"
	"sync"

	"github.com/ValentinKolb/dGrid/lib/logging"
	"github.com/ValentinKolb/dGrid/lib/transport"
)

var log = logging.GetLogger("transport/udp")

// maxDatagramSize bounds the encoded message size. Larger messages are
// dropped on publish with a warning; the endpoint's batching keeps regular
// traffic well below this.
const maxDatagramSize = 60 * 1024

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

// Config holds the settings for the UDP multicast bus
type Config struct {
	// Group is the multicast group address all grid peers share,
	// e.g. "239.12.12.12:7946"
	Group string
	// Interface optionally names the network interface to bind to
	Interface string
}

// DefaultConfig returns the default UDP bus configuration
func DefaultConfig() Config {
	return Config{
		Group: "239.12.12.12:7946",
	}
}

// --------------------------------------------------------------------------
// Transport Implementation
// --------------------------------------------------------------------------

// udpTransport implements transport.Transport over UDP multicast.
// Loss, duplication and reordering are inherent to the medium, which is
// exactly the failure model the fabric above is designed for.
type udpTransport struct {
	group *net.UDPAddr
	recv  *net.UDPConn
	send  *net.UDPConn

	handlerMu sync.RWMutex
	handler   transport.Handler

	stop     chan struct{}
	stopOnce sync.Once
}

// New joins the configured multicast group and returns a ready transport
func New(cfg Config) (transport.Transport, error) {
	group, err := net.ResolveUDPAddr("udp4", cfg.Group)
	if err != nil {
		return nil, fmt.Errorf("resolve multicast group %q: %w", cfg.Group, err)
	}

	var iface *net.Interface
	if cfg.Interface != "" {
		iface, err = net.InterfaceByName(cfg.Interface)
		if err != nil {
			return nil, fmt.Errorf("lookup interface %q: %w", cfg.Interface, err)
		}
	}

	recv, err := net.ListenMulticastUDP("udp4", iface, group)
	if err != nil {
		return nil, fmt.Errorf("join multicast group %q: %w", cfg.Group, err)
	}
	_ = recv.SetReadBuffer(maxDatagramSize)

	send, err := net.DialUDP("udp4", nil, group)
	if err != nil {
		_ = recv.Close()
		return nil, fmt.Errorf("open multicast sender: %w", err)
	}

	t := &udpTransport{
		group: group,
		recv:  recv,
		send:  send,
		stop:  make(chan struct{}),
	}
	go t.readLoop()
	return t, nil
}

// readLoop decodes inbound datagrams and hands them to the subscriber.
// Malformed datagrams are dropped.
func (t *udpTransport) readLoop() {
	buf := make([]byte, maxDatagramSize)
	for {
		n, _, err := t.recv.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-t.stop:
				return
			default:
				log.Warnf("read failed: %v", err)
				continue
			}
		}

		var msg transport.Message
		if err := gob.NewDecoder(bytes.NewReader(buf[:n])).Decode(&msg); err != nil {
			log.Warnf("dropping malformed datagram (%d bytes): %v", n, err)
			continue
		}

		t.handlerMu.RLock()
		handler := t.handler
		t.handlerMu.RUnlock()
		if handler != nil {
			handler(msg)
		}
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.Transport)
// --------------------------------------------------------------------------

func (t *udpTransport) Publish(msg transport.Message) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(msg); err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if buf.Len() > maxDatagramSize {
		log.Warnf("dropping oversized %s/%s message (%d bytes)", msg.Protocol, msg.Type, buf.Len())
		return nil
	}
	_, err := t.send.Write(buf.Bytes())
	return err
}

func (t *udpTransport) Subscribe(handler transport.Handler) {
	t.handlerMu.Lock()
	t.handler = handler
	t.handlerMu.Unlock()
}

func (t *udpTransport) Close() error {
	var err error
	t.stopOnce.Do(func() {
		close(t.stop)
		err = t.recv.Close()
		if e := t.send.Close(); err == nil {
			err = e
		}
	})
	return err
}
