package server

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/teamx/teamx-server/internal/block"
	"github.com/teamx/teamx-server/internal/errutil"
	"github.com/teamx/teamx-server/internal/observability"
	"github.com/teamx/teamx-server/internal/packet"
	"github.com/teamx/teamx-server/internal/permission"
	"github.com/teamx/teamx-server/internal/session"
	"github.com/teamx/teamx-server/internal/transport"
)

const (
	msgAccessGranted  = "Access Granted."
	msgAccessDenied   = "Access denied. You are banned from this server."
	msgIdentityDenied = "Access denied. Identity does not match the handshake."
)

func (s *Server) handleEvent(ctx context.Context, ev transport.Event) {
	switch ev.Type {
	case transport.EventConnect:
		s.handleConnect(ev.Conn)
	case transport.EventReceive:
		s.handleReceive(ctx, ev.Conn, ev.Data)
	case transport.EventDisconnect:
		s.handleDisconnect(ev.Conn)
	}
}

func (s *Server) handleConnect(conn transport.Conn) {
	cs := &connState{
		conn:   conn,
		phase:  phaseConnected,
		logger: s.logger.With("conn", conn.ID().String()),
	}
	if s.cfg.RateLimit > 0 {
		burst := s.cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		cs.limiter = rate.NewLimiter(rate.Limit(s.cfg.RateLimit), burst)
	}
	s.conns[conn.ID()] = cs
	cs.logger.Info("connection opened", "remote", conn.RemoteAddr())

	s.send(cs, &packet.HandshakeRequest{Message: s.cfg.WelcomeMessage})
	cs.phase = phaseAuthenticating
}

func (s *Server) handleDisconnect(conn transport.Conn) {
	cs, ok := s.conns[conn.ID()]
	if !ok {
		return
	}
	delete(s.conns, conn.ID())
	if cs.phase == phaseJoined {
		s.dropPlayer(cs, "disconnected")
	}
	cs.phase = phaseDisconnected
	cs.logger.Info("connection closed")
}

func (s *Server) handleReceive(ctx context.Context, conn transport.Conn, data []byte) {
	cs, ok := s.conns[conn.ID()]
	if !ok || cs.phase == phaseDisconnected {
		return
	}
	if cs.limiter != nil && !cs.limiter.Allow() {
		s.countDrop(observability.DropRateLimited)
		cs.logger.Debug("rate limit exceeded, packet dropped")
		return
	}

	p, err := s.registry.Decode(data)
	if err != nil {
		if errutil.HasCode(err, packet.CodeUnknown) {
			s.countDrop(observability.DropUnknown)
		} else {
			s.countDrop(observability.DropMalformed)
		}
		errutil.LogWarn(cs.logger, "packet dropped", err)
		return
	}
	kind := packet.KindOf(p)
	if s.metrics != nil {
		s.metrics.PacketsReceived.WithLabelValues(kind.Name()).Inc()
	}

	ctx, span := tracer.Start(ctx, "server.handle",
		trace.WithAttributes(
			attribute.String("packet", kind.Name()),
			attribute.String("conn", conn.ID().String()),
			attribute.String("phase", cs.phase.String()),
		))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			s.countDrop(observability.DropPanic)
			span.SetStatus(codes.Error, "handler panic")
			cs.logger.ErrorContext(ctx, "handler panicked, packet dropped",
				"packet", kind.Name(), "panic", fmt.Sprint(r))
		}
	}()

	s.route(ctx, cs, p)
}

// allowed lists the phases in which a client packet is accepted. Variants
// missing from the table have no handler.
var allowed = map[packet.Kind]func(cs *connState) bool{
	packet.KindHandshakeResponse:  authenticating,
	packet.KindPlayerJoin:         authenticating,
	packet.KindPlayerLeft:         joined,
	packet.KindPlayerState:        joined,
	packet.KindEditorStateRequest: identified,
	packet.KindServerRulesRequest: identified,
	packet.KindEditorBlockCreate:  joined,
	packet.KindEditorBlockUpdate:  joined,
	packet.KindEditorBlockDestroy: joined,
	packet.KindEditorFloor:        joined,
	packet.KindEditorSkybox:       joined,
	packet.KindEditorSelection:    joined,
	packet.KindEditorDeselection:  joined,
}

func authenticating(cs *connState) bool { return cs.phase == phaseAuthenticating }
func joined(cs *connState) bool         { return cs.phase == phaseJoined }
func identified(cs *connState) bool     { return cs.identified && cs.phase != phaseDisconnected }

func (s *Server) route(ctx context.Context, cs *connState, p packet.Packet) {
	kind := packet.KindOf(p)
	check, ok := allowed[kind]
	if !ok {
		s.countDrop(observability.DropUnhandled)
		return
	}
	if !check(cs) {
		s.countDrop(observability.DropWrongState)
		cs.logger.WarnContext(ctx, "packet not allowed in this state",
			"packet", kind.Name(), "phase", cs.phase.String())
		return
	}

	switch p := p.(type) {
	case *packet.HandshakeResponse:
		s.handleHandshake(ctx, cs, p)
	case *packet.PlayerJoin:
		s.handleJoin(ctx, cs, p)
	case *packet.PlayerLeft:
		s.checkIdentity(ctx, cs, kind, p.SteamID)
		s.handleLeft(cs)
	case *packet.PlayerState:
		s.checkIdentity(ctx, cs, kind, p.SteamID)
		s.handleState(cs, p)
	case *packet.EditorStateRequest:
		s.checkIdentity(ctx, cs, kind, p.SteamID)
		s.handleEditorState(cs)
	case *packet.ServerRulesRequest:
		s.checkIdentity(ctx, cs, kind, p.SteamID)
		s.handleRules(cs)
	case *packet.EditorBlockCreate:
		s.checkIdentity(ctx, cs, kind, p.SteamID)
		s.handleCreate(ctx, cs, p)
	case *packet.EditorBlockUpdate:
		s.checkIdentity(ctx, cs, kind, p.SteamID)
		s.handleUpdate(ctx, cs, p)
	case *packet.EditorBlockDestroy:
		s.checkIdentity(ctx, cs, kind, p.SteamID)
		s.handleDestroy(ctx, cs, p)
	case *packet.EditorFloor:
		s.checkIdentity(ctx, cs, kind, p.SteamID)
		s.handleFloor(cs, p)
	case *packet.EditorSkybox:
		s.checkIdentity(ctx, cs, kind, p.SteamID)
		s.handleSkybox(cs, p)
	case *packet.EditorSelection:
		s.checkIdentity(ctx, cs, kind, p.SteamID)
		s.handleSelection(ctx, cs, p)
	case *packet.EditorDeselection:
		s.checkIdentity(ctx, cs, kind, p.SteamID)
		s.handleDeselection(ctx, cs, p)
	}
}

// checkIdentity logs a packet whose declared identity is not the session's.
// The session identity is used regardless.
func (s *Server) checkIdentity(ctx context.Context, cs *connState, kind packet.Kind, declared uint64) {
	if declared != cs.identity {
		cs.logger.WarnContext(ctx, "declared identity does not match session",
			"packet", kind.Name(), "player", cs.identity, "declared", declared)
	}
}

func (s *Server) send(cs *connState, p packet.Packet) {
	if err := s.sessions.SendTo(cs.conn, p); err != nil {
		cs.logger.Warn("send failed", "packet", packet.KindOf(p).Name(), "error", err)
	}
}

// deny replies with a denial for a request of kind.
func (s *Server) deny(cs *connState, kind packet.Kind, reply packet.Packet) {
	if s.metrics != nil {
		s.metrics.Denials.WithLabelValues(kind.Name()).Inc()
	}
	cs.logger.Debug("request denied", "packet", kind.Name(), "player", cs.identity)
	s.send(cs, reply)
}

// gate is the access check in front of every request after the handshake.
func (s *Server) gate(cs *connState) (permission.Entry, bool) {
	perms := s.oracle.PermissionsFor(cs.identity)
	return perms, perms.CanJoin
}

func (s *Server) handleHandshake(ctx context.Context, cs *connState, p *packet.HandshakeResponse) {
	perms := s.oracle.PermissionsFor(p.SteamID)
	if !perms.CanJoin {
		cs.logger.InfoContext(ctx, "handshake denied", "player", p.SteamID)
		s.deny(cs, packet.KindHandshakeResponse, &packet.AccessDenied{Reason: msgAccessDenied})
		return
	}
	cs.identity = p.SteamID
	cs.identified = true
	cs.logger.InfoContext(ctx, "handshake accepted", "player", p.SteamID, "level", perms.Level)
	s.send(cs, &packet.AccessGranted{Message: msgAccessGranted, Level: perms.Level})
}

func (s *Server) handleJoin(ctx context.Context, cs *connState, p *packet.PlayerJoin) {
	if cs.identified && p.SteamID != cs.identity {
		cs.logger.WarnContext(ctx, "join identity does not match handshake",
			"player", cs.identity, "declared", p.SteamID)
		s.deny(cs, packet.KindPlayerJoin, &packet.AccessDenied{Reason: msgIdentityDenied})
		return
	}
	if !s.oracle.CanJoin(p.SteamID) {
		s.deny(cs, packet.KindPlayerJoin, &packet.AccessDenied{Reason: msgAccessDenied})
		return
	}

	if old, ok := s.sessions.LookupByIdentity(p.SteamID); ok {
		s.evict(ctx, old)
	}

	player := s.sessions.Register(cs.conn, p.SteamID)
	player.Name = p.Name
	player.Cosmetics = p.Cosmetics
	cs.identity = p.SteamID
	cs.identified = true
	cs.phase = phaseJoined

	s.sessions.BroadcastExcept(cs.conn, player.JoinPacket())
	for _, other := range s.sessions.Players() {
		if other == player {
			continue
		}
		s.send(cs, other.JoinPacket())
		s.send(cs, other.StatePacket())
	}

	s.gaugePlayers()
	cs.logger.InfoContext(ctx, "player joined", "player", player.ID, "name", player.Name)
	s.emit(Event{Kind: EventJoin, Player: player.ID, Name: player.Name})
}

// evict drops an older session of a player who joined again.
func (s *Server) evict(ctx context.Context, old *session.Player) {
	cs, ok := s.conns[old.Conn.ID()]
	if !ok {
		s.sessions.Unregister(old.Conn)
		return
	}
	cs.logger.InfoContext(ctx, "evicting previous session", "player", old.ID)
	delete(s.conns, old.Conn.ID())
	s.dropPlayer(cs, "replaced by a new session")
	cs.phase = phaseDisconnected
	cs.conn.Close()
}

func (s *Server) handleLeft(cs *connState) {
	delete(s.conns, cs.conn.ID())
	s.dropPlayer(cs, "left")
	cs.phase = phaseDisconnected
	cs.conn.Close()
}

// dropPlayer removes the player on cs, releases their selections and tells
// everyone else.
func (s *Server) dropPlayer(cs *connState, reason string) {
	player, ok := s.sessions.Unregister(cs.conn)
	if !ok {
		return
	}
	released := 0
	if _, stillOnline := s.sessions.LookupByIdentity(player.ID); !stillOnline {
		released = s.editor.ReleaseAll(player.ID)
	}
	s.sessions.Broadcast(&packet.PlayerLeft{SteamID: player.ID})
	s.gaugePlayers()
	cs.logger.Info("player left", "player", player.ID, "reason", reason, "released", released)
	s.emit(Event{Kind: EventLeave, Player: player.ID, Name: player.Name})
}

func (s *Server) handleState(cs *connState, p *packet.PlayerState) {
	if _, ok := s.gate(cs); !ok {
		s.deny(cs, packet.KindPlayerState, &packet.AccessDenied{Reason: msgAccessDenied})
		return
	}
	player, ok := s.sessions.Lookup(cs.conn)
	if !ok {
		return
	}
	player.Position = p.Position
	player.Euler = p.Euler
	player.Mode = p.Mode
	s.sessions.BroadcastExcept(cs.conn, player.StatePacket())
}

func (s *Server) handleEditorState(cs *connState) {
	if _, ok := s.gate(cs); !ok {
		s.deny(cs, packet.KindEditorStateRequest, &packet.AccessDenied{Reason: msgAccessDenied})
		return
	}
	s.send(cs, &packet.EditorStateResponse{
		Floor:  s.editor.Floor(),
		Skybox: s.editor.Skybox(),
		Blocks: s.editor.BlockStrings(),
	})
}

func (s *Server) handleRules(cs *connState) {
	perms, ok := s.gate(cs)
	if !ok {
		s.deny(cs, packet.KindServerRulesRequest, &packet.AccessDenied{Reason: msgAccessDenied})
		return
	}
	s.send(cs, rulesPacket(perms))
}

func rulesPacket(e permission.Entry) *packet.ServerRulesResponse {
	return &packet.ServerRulesResponse{
		IsAdministrator: e.IsAdministrator,
		CanJoin:         e.CanJoin,
		CanCreate:       e.CanCreate,
		CanEdit:         e.CanEdit,
		CanEditAll:      e.CanEditAll,
		CanEditFloor:    e.CanEditFloor,
		CanEditSkybox:   e.CanEditSkybox,
		CanDestroy:      e.CanDestroy,
		BlockLimit:      e.BlockLimit,
		BannedBlocks:    append([]int32(nil), e.BannedBlocks...),
	}
}

func (s *Server) handleCreate(ctx context.Context, cs *connState, p *packet.EditorBlockCreate) {
	b, err := block.Parse(p.BlockString)
	if err != nil {
		s.countDrop(observability.DropMalformed)
		errutil.LogWarn(cs.logger, "unreadable block dropped", err)
		return
	}
	deny := func(reason string) {
		cs.logger.DebugContext(ctx, "create denied", "uid", b.UID, "reason", reason)
		s.deny(cs, packet.KindEditorBlockCreate, &packet.EditorBlockCreateDenied{UID: b.UID})
	}

	perms, ok := s.gate(cs)
	switch {
	case !ok || !perms.CanCreate:
		deny("not allowed to create")
		return
	case perms.IsBanned(b.Type):
		deny("block type is banned")
		return
	case !perms.IsAdministrator && perms.BlockLimit > 0 &&
		s.editor.BlocksOwnedBy(b.Owner) >= int(perms.BlockLimit):
		deny("block limit reached")
		return
	}

	if err := s.editor.Add(b); err != nil {
		errutil.LogWarn(cs.logger, "create dropped", err)
		return
	}
	s.sessions.BroadcastExcept(cs.conn, &packet.EditorBlockCreate{SteamID: cs.identity, BlockString: p.BlockString})
	s.gaugeBlocks()
	s.emit(Event{Kind: EventCreate, Player: cs.identity, UID: b.UID})
}

func (s *Server) handleUpdate(ctx context.Context, cs *connState, p *packet.EditorBlockUpdate) {
	b, err := block.Parse(p.BlockString)
	if err != nil {
		s.countDrop(observability.DropMalformed)
		errutil.LogWarn(cs.logger, "unreadable block dropped", err)
		return
	}
	deny := func() {
		s.deny(cs, packet.KindEditorBlockUpdate, &packet.EditorBlockUpdateDenied{BlockString: s.editor.BlockString(b.UID)})
	}

	perms, ok := s.gate(cs)
	if !ok || !(perms.CanEdit || perms.CanEditAll) {
		deny()
		return
	}
	if err := s.editor.CanMutate(b.UID, cs.identity, perms.CanEditAll); err != nil {
		cs.logger.DebugContext(ctx, "update denied", "uid", b.UID, "error", err)
		deny()
		return
	}
	if err := s.editor.Update(b); err != nil {
		cs.logger.DebugContext(ctx, "update denied", "uid", b.UID, "error", err)
		deny()
		return
	}
	s.sessions.BroadcastExcept(cs.conn, &packet.EditorBlockUpdate{SteamID: cs.identity, BlockString: p.BlockString})
	s.emit(Event{Kind: EventUpdate, Player: cs.identity, UID: b.UID})
}

func (s *Server) handleDestroy(ctx context.Context, cs *connState, p *packet.EditorBlockDestroy) {
	deny := func() {
		s.deny(cs, packet.KindEditorBlockDestroy, &packet.EditorBlockDestroyDenied{BlockString: s.editor.BlockString(p.UID)})
	}

	perms, ok := s.gate(cs)
	if !ok || !perms.CanDestroy {
		deny()
		return
	}
	if err := s.editor.CanMutate(p.UID, cs.identity, perms.CanEditAll); err != nil {
		cs.logger.DebugContext(ctx, "destroy denied", "uid", p.UID, "error", err)
		deny()
		return
	}
	s.editor.Remove(p.UID)
	s.sessions.BroadcastExcept(cs.conn, &packet.EditorBlockDestroy{SteamID: cs.identity, UID: p.UID})
	s.gaugeBlocks()
	s.emit(Event{Kind: EventDestroy, Player: cs.identity, UID: p.UID})
}

func (s *Server) handleFloor(cs *connState, p *packet.EditorFloor) {
	perms, ok := s.gate(cs)
	if !ok || !perms.CanEditFloor {
		s.deny(cs, packet.KindEditorFloor, &packet.EditorFloorDenied{Floor: s.editor.Floor()})
		return
	}
	s.editor.SetFloor(p.Floor)
	s.sessions.BroadcastExcept(cs.conn, &packet.EditorFloor{SteamID: cs.identity, Floor: p.Floor})
	s.emit(Event{Kind: EventFloor, Player: cs.identity, Value: p.Floor})
}

func (s *Server) handleSkybox(cs *connState, p *packet.EditorSkybox) {
	perms, ok := s.gate(cs)
	if !ok || !perms.CanEditSkybox {
		s.deny(cs, packet.KindEditorSkybox, &packet.EditorSkyboxDenied{Skybox: s.editor.Skybox()})
		return
	}
	s.editor.SetSkybox(p.Skybox)
	s.sessions.BroadcastExcept(cs.conn, &packet.EditorSkybox{SteamID: cs.identity, Skybox: p.Skybox})
	s.emit(Event{Kind: EventSkybox, Player: cs.identity, Value: p.Skybox})
}

func (s *Server) handleSelection(ctx context.Context, cs *connState, p *packet.EditorSelection) {
	perms, ok := s.gate(cs)
	if !ok {
		s.deny(cs, packet.KindEditorSelection, &packet.EditorSelectionDenied{UID: p.UID})
		return
	}
	if err := s.editor.Select(p.UID, cs.identity, perms.CanEditAll); err != nil {
		cs.logger.DebugContext(ctx, "selection denied", "uid", p.UID, "error", err)
		s.deny(cs, packet.KindEditorSelection, &packet.EditorSelectionDenied{UID: p.UID})
	}
}

func (s *Server) handleDeselection(ctx context.Context, cs *connState, p *packet.EditorDeselection) {
	if !s.editor.Deselect(p.UID, cs.identity) {
		cs.logger.DebugContext(ctx, "deselection ignored", "uid", p.UID)
	}
}
