// Package control serves the admin RPC interface.
//
// Each TCP connection starts with the server writing a big-endian int32
// connection id. The connection is then multiplexed with yamux: the admin
// tool opens a stream for its JSON-RPC calls, and the server opens one to
// push Monitor.Event calls to tools that asked to watch.
package control

import (
	"encoding/binary"
	"errors"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/yamux"

	"github.com/teamx/teamx-server/proto"
)

const eventQueue = 256

type Server struct {
	clientid  int32
	sessions  sync.Map // map[id]*Session
	rpcServer *rpc.Server
	logger    *slog.Logger

	events chan proto.Event
	done   chan struct{}
	once   sync.Once

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

func NewServer(logger *slog.Logger) *Server {
	return &Server{
		rpcServer: rpc.NewServer(),
		logger:    logger,
		events:    make(chan proto.Event, eventQueue),
		done:      make(chan struct{}),
	}
}

func (s *Server) serveRpc(sess *yamux.Session) {
	conn, err := sess.Accept()
	if err != nil {
		s.logger.Debug("no rpc stream", "error", err)
		return
	}
	s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(conn))
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()
	id := atomic.AddInt32(&s.clientid, 1)
	logger := s.logger.With("control_conn", id, "remote", conn.RemoteAddr().String())
	logger.Info("admin connected")
	// send id to client, handshake done.
	if err := binary.Write(conn, binary.BigEndian, id); err != nil {
		logger.Warn("handshake failed", "error", err)
		return
	}

	mux, err := yamux.Server(conn, nil)
	if err != nil {
		logger.Warn("yamux setup failed", "error", err)
		return
	}

	clientConn, err := mux.Open()
	if err != nil {
		logger.Warn("open monitor stream", "error", err)
		mux.Close()
		return
	}
	session := NewSession(id, conn, mux, clientConn)
	s.sessions.Store(id, session)
	select {
	case <-s.done:
		// Close already swept the sessions.
		session.Close()
	default:
	}
	s.serveRpc(mux)
	s.sessions.Delete(id)
	session.Close()
	logger.Info("admin disconnected")
}

func (s *Server) RegisterService(name string, service any) error {
	return s.rpcServer.RegisterName(name, service)
}

func (s *Server) RangeSession(f func(id int32, sess *Session)) {
	s.sessions.Range(func(k, v any) bool {
		f(k.(int32), v.(*Session))
		return true
	})
}

// Session returns the live connection with the given id.
func (s *Server) Session(id int32) (*Session, bool) {
	v, ok := s.sessions.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// Publish queues ev for every watching session. It never blocks: when the
// queue is full the event is dropped.
func (s *Server) Publish(ev proto.Event) {
	select {
	case s.events <- ev:
	default:
		s.logger.Warn("monitor queue full, event dropped", "kind", ev.Kind)
	}
}

func (s *Server) fanout() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.events:
			s.RangeSession(func(id int32, sess *Session) {
				if !sess.Watching() {
					return
				}
				sess.Go("Monitor.Event", &ev, new(proto.EventResponse), nil)
			})
		}
	}
}

// Serve accepts admin connections on l until Close is called.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	select {
	case <-s.done:
		s.mu.Unlock()
		return net.ErrClosed
	default:
	}
	s.listener = l
	s.wg.Add(1)
	go s.fanout()
	s.mu.Unlock()

	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn("accept failed", "error", err)
			continue
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// Close stops accepting, drops every admin connection and waits for their
// goroutines.
func (s *Server) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		close(s.done)
		if s.listener != nil {
			err = s.listener.Close()
		}
		s.mu.Unlock()
		s.RangeSession(func(_ int32, sess *Session) {
			sess.Close()
		})
		s.wg.Wait()
	})
	return err
}
