// Package session tracks the joined players and fans packets out to them.
//
// A Registry is owned by the server loop and is not safe for concurrent use.
package session

import (
	"log/slog"
	"sort"

	"github.com/oklog/ulid/v2"

	"github.com/teamx/teamx-server/internal/packet"
	"github.com/teamx/teamx-server/internal/transport"
)

type Player struct {
	ID        uint64
	Name      string
	Cosmetics packet.Cosmetics
	Conn      transport.Conn

	// Last reported transform.
	Position packet.Vector3
	Euler    packet.Vector3
	Mode     byte

	seq uint64
}

// JoinPacket describes the player to others.
func (p *Player) JoinPacket() *packet.PlayerJoin {
	return &packet.PlayerJoin{SteamID: p.ID, Name: p.Name, Cosmetics: p.Cosmetics}
}

// StatePacket carries the last transform under the player's own identity.
func (p *Player) StatePacket() *packet.PlayerState {
	return &packet.PlayerState{SteamID: p.ID, Position: p.Position, Euler: p.Euler, Mode: p.Mode}
}

type Registry struct {
	logger *slog.Logger
	byConn map[ulid.ULID]*Player
	byID   map[uint64]*Player
	seq    uint64
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger: logger,
		byConn: make(map[ulid.ULID]*Player),
		byID:   make(map[uint64]*Player),
	}
}

// Register binds conn to identity. Any earlier registration of either the
// connection or the identity is replaced.
func (r *Registry) Register(conn transport.Conn, identity uint64) *Player {
	if old, ok := r.byID[identity]; ok {
		delete(r.byConn, old.Conn.ID())
	}
	if old, ok := r.byConn[conn.ID()]; ok {
		delete(r.byID, old.ID)
	}
	r.seq++
	p := &Player{ID: identity, Conn: conn, seq: r.seq}
	r.byConn[conn.ID()] = p
	r.byID[identity] = p
	return p
}

func (r *Registry) Unregister(conn transport.Conn) (*Player, bool) {
	p, ok := r.byConn[conn.ID()]
	if !ok {
		return nil, false
	}
	delete(r.byConn, conn.ID())
	if cur, ok := r.byID[p.ID]; ok && cur == p {
		delete(r.byID, p.ID)
	}
	return p, true
}

func (r *Registry) Lookup(conn transport.Conn) (*Player, bool) {
	p, ok := r.byConn[conn.ID()]
	return p, ok
}

func (r *Registry) LookupByIdentity(id uint64) (*Player, bool) {
	p, ok := r.byID[id]
	return p, ok
}

func (r *Registry) Len() int { return len(r.byConn) }

// Players returns the joined players in join order.
func (r *Registry) Players() []*Player {
	out := make([]*Player, 0, len(r.byConn))
	for _, p := range r.byConn {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// SendTo delivers p to one connection.
func (r *Registry) SendTo(conn transport.Conn, p packet.Packet) error {
	return conn.Send(packet.Encode(p))
}

// Broadcast delivers p to every joined player.
func (r *Registry) Broadcast(p packet.Packet) {
	r.broadcast(nil, p)
}

// BroadcastExcept delivers p to every joined player except the one on conn.
func (r *Registry) BroadcastExcept(conn transport.Conn, p packet.Packet) {
	r.broadcast(conn, p)
}

func (r *Registry) broadcast(except transport.Conn, p packet.Packet) {
	frame := packet.Encode(p)
	for id, player := range r.byConn {
		if except != nil && id == except.ID() {
			continue
		}
		if err := player.Conn.Send(frame); err != nil {
			r.logger.Warn("broadcast send failed",
				"conn", id.String(),
				"player", player.ID,
				"packet", packet.KindOf(p).Name(),
				"error", err)
		}
	}
}
