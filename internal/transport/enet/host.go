// Package enet serves the transport over ENet reliable UDP.
package enet

import (
	"time"

	goenet "github.com/codecat/go-enet"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/teamx/teamx-server/internal/transport"
)

const (
	channel      = 0
	channelLimit = 1
	closeTimeout = 500 * time.Millisecond
)

type conn struct {
	id   ulid.ULID
	peer goenet.Peer
	addr string
}

func (c *conn) ID() ulid.ULID      { return c.id }
func (c *conn) RemoteAddr() string { return c.addr }

func (c *conn) Send(frame []byte) error {
	return c.peer.SendBytes(frame, channel, goenet.PacketFlagReliable)
}

func (c *conn) Close() {
	c.peer.DisconnectLater(0)
}

// Host is a listening ENet host. It must be serviced from one goroutine.
type Host struct {
	host  goenet.Host
	conns map[goenet.Peer]*conn
}

// Listen binds address:port. An empty address listens on every interface.
func Listen(address string, port uint16, maxPeers int) (*Host, error) {
	if rc := goenet.Initialize(); rc != 0 {
		return nil, oops.In("transport").With("rc", rc).Errorf("enet initialize failed")
	}
	var addr goenet.Address
	if address == "" {
		addr = goenet.NewListenAddress(port)
	} else {
		addr = goenet.NewAddress(address, port)
	}
	h, err := goenet.NewHost(addr, uint64(maxPeers), channelLimit, 0, 0)
	if err != nil {
		goenet.Deinitialize()
		return nil, oops.In("transport").
			With("address", address).
			With("port", port).
			Wrapf(err, "bind enet host")
	}
	return &Host{host: h, conns: make(map[goenet.Peer]*conn)}, nil
}

func (h *Host) Service(timeout time.Duration) transport.Event {
	ev := h.host.Service(uint32(timeout.Milliseconds()))
	switch ev.GetType() {
	case goenet.EventConnect:
		peer := ev.GetPeer()
		c := &conn{id: ulid.Make(), peer: peer, addr: peer.GetAddress().String()}
		h.conns[peer] = c
		return transport.Event{Type: transport.EventConnect, Conn: c}
	case goenet.EventDisconnect:
		peer := ev.GetPeer()
		c, ok := h.conns[peer]
		if !ok {
			return transport.Event{Type: transport.EventNone}
		}
		delete(h.conns, peer)
		return transport.Event{Type: transport.EventDisconnect, Conn: c}
	case goenet.EventReceive:
		pkt := ev.GetPacket()
		defer pkt.Destroy()
		c, ok := h.conns[ev.GetPeer()]
		if !ok {
			return transport.Event{Type: transport.EventNone}
		}
		data := append([]byte(nil), pkt.GetData()...)
		return transport.Event{Type: transport.EventReceive, Conn: c, Data: data}
	}
	return transport.Event{Type: transport.EventNone}
}

// Close disconnects every peer, waits briefly for the disconnects to go out
// and releases the host.
func (h *Host) Close() error {
	for peer := range h.conns {
		peer.Disconnect(0)
	}
	deadline := time.Now().Add(closeTimeout)
	for len(h.conns) > 0 && time.Now().Before(deadline) {
		ev := h.host.Service(10)
		switch ev.GetType() {
		case goenet.EventDisconnect:
			delete(h.conns, ev.GetPeer())
		case goenet.EventReceive:
			ev.GetPacket().Destroy()
		}
	}
	h.host.Destroy()
	goenet.Deinitialize()
	return nil
}
