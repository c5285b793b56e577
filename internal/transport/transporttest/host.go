// Package transporttest provides an in-memory transport for tests.
package transporttest

import (
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/teamx/teamx-server/internal/packet"
	"github.com/teamx/teamx-server/internal/transport"
)

var ErrClosed = errors.New("transporttest: connection closed")

// Host queues events injected by the test and hands them out in order.
type Host struct {
	mu     sync.Mutex
	events []transport.Event
	notify chan struct{}
	closed bool
}

func NewHost() *Host {
	return &Host{notify: make(chan struct{}, 1)}
}

func (h *Host) push(ev transport.Event) {
	h.mu.Lock()
	h.events = append(h.events, ev)
	h.mu.Unlock()
	select {
	case h.notify <- struct{}{}:
	default:
	}
}

// Connect queues a connect event for a new connection.
func (h *Host) Connect() *Conn {
	c := &Conn{id: ulid.Make(), host: h}
	h.push(transport.Event{Type: transport.EventConnect, Conn: c})
	return c
}

// Receive queues frame as arriving on c.
func (h *Host) Receive(c *Conn, frame []byte) {
	h.push(transport.Event{Type: transport.EventReceive, Conn: c, Data: frame})
}

// Send encodes p and queues it as arriving on c.
func (h *Host) Send(c *Conn, p packet.Packet) {
	h.Receive(c, packet.Encode(p))
}

// Disconnect queues an abrupt disconnect of c.
func (h *Host) Disconnect(c *Conn) {
	c.markClosed()
	h.push(transport.Event{Type: transport.EventDisconnect, Conn: c})
}

// Pending reports how many events have not been serviced yet.
func (h *Host) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

func (h *Host) pop() (transport.Event, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.events) == 0 {
		return transport.Event{}, false
	}
	ev := h.events[0]
	h.events = h.events[1:]
	return ev, true
}

func (h *Host) Service(timeout time.Duration) transport.Event {
	if ev, ok := h.pop(); ok {
		return ev
	}
	if timeout <= 0 {
		return transport.Event{Type: transport.EventNone}
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-h.notify:
		if ev, ok := h.pop(); ok {
			return ev
		}
	case <-t.C:
	}
	return transport.Event{Type: transport.EventNone}
}

func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

func (h *Host) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Conn records every frame the server sends to it.
type Conn struct {
	id   ulid.ULID
	host *Host

	mu     sync.Mutex
	sent   [][]byte
	closed bool
}

func (c *Conn) ID() ulid.ULID      { return c.id }
func (c *Conn) RemoteAddr() string { return "mem:" + c.id.String() }

func (c *Conn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.sent = append(c.sent, append([]byte(nil), frame...))
	return nil
}

// Close mimics a graceful disconnect: the connection stops accepting sends
// and a disconnect event is queued.
func (c *Conn) Close() {
	if c.markClosed() {
		c.host.push(transport.Event{Type: transport.EventDisconnect, Conn: c})
	}
}

func (c *Conn) markClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	return true
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Frames returns the raw frames sent so far.
func (c *Conn) Frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent...)
}

// Packets decodes every frame sent so far and clears the record.
func (c *Conn) Packets() []packet.Packet {
	c.mu.Lock()
	frames := c.sent
	c.sent = nil
	c.mu.Unlock()

	reg := packet.NewRegistry()
	out := make([]packet.Packet, 0, len(frames))
	for _, f := range frames {
		p, err := reg.Decode(f)
		if err != nil {
			panic(err)
		}
		out = append(out, p)
	}
	return out
}
