// Package transport is the datagram side of the server: a pull-style source
// of connect, receive and disconnect events plus reliable ordered sends.
package transport

import (
	"time"

	"github.com/oklog/ulid/v2"
)

type EventType int

const (
	EventNone EventType = iota
	EventConnect
	EventReceive
	EventDisconnect
)

func (t EventType) String() string {
	switch t {
	case EventConnect:
		return "connect"
	case EventReceive:
		return "receive"
	case EventDisconnect:
		return "disconnect"
	}
	return "none"
}

// Conn is one remote peer. Every send is reliable and ordered.
type Conn interface {
	ID() ulid.ULID
	RemoteAddr() string
	Send(frame []byte) error
	// Close disconnects after queued sends are delivered. A disconnect event
	// for the connection follows.
	Close()
}

type Event struct {
	Type EventType
	Conn Conn
	Data []byte
}

// Host delivers events one at a time. Service blocks for at most timeout and
// returns an EventNone event when nothing arrived.
type Host interface {
	Service(timeout time.Duration) Event
	Close() error
}
