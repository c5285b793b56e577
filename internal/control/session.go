package control

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"sync/atomic"

	"github.com/hashicorp/yamux"
)

// Session is one admin connection. The embedded client calls back into the
// admin tool over the stream the server opened.
type Session struct {
	id         int32
	masterConn net.Conn
	mux        *yamux.Session
	watching   atomic.Bool
	*rpc.Client
}

func NewSession(id int32, masterConn net.Conn, mux *yamux.Session, clientConn net.Conn) *Session {
	return &Session{
		id:         id,
		masterConn: masterConn,
		mux:        mux,
		Client:     rpc.NewClientWithCodec(jsonrpc.NewClientCodec(clientConn)),
	}
}

func (s *Session) ID() int32 { return s.id }

func (s *Session) Watching() bool { return s.watching.Load() }

func (s *Session) Close() {
	s.Client.Close()
	s.mux.Close()
	s.masterConn.Close()
}
