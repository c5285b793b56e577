package control

import (
	"context"
	"log/slog"
	"time"

	"github.com/samber/oops"

	"github.com/teamx/teamx-server/internal/server"
	"github.com/teamx/teamx-server/proto"
)

// Backend is what the admin service drives. *server.Server implements it.
type Backend interface {
	SetLevel(ctx context.Context, id uint64, tier string) error
	RenamePlayer(ctx context.Context, id uint64, name string) error
	ListPlayers(ctx context.Context, pattern string) ([]server.PlayerInfo, error)
	Save(ctx context.Context) (string, error)
	Status(ctx context.Context) (server.Status, error)
}

const DefaultCallTimeout = 5 * time.Second

const CodeUnknownConn = "UNKNOWN_CONTROL_CONN"

type AdminService struct {
	server  *Server
	backend Backend
	logger  *slog.Logger
	timeout time.Duration
}

func NewAdminService(s *Server, backend Backend, logger *slog.Logger) *AdminService {
	return &AdminService{
		server:  s,
		backend: backend,
		logger:  logger,
		timeout: DefaultCallTimeout,
	}
}

func (s *AdminService) callContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

func (s *AdminService) SetLevel(req *proto.SetLevelRequest, rep *proto.SetLevelResponse) error {
	ctx, cancel := s.callContext()
	defer cancel()
	s.logger.Info("admin: set level", "player", req.Player, "tier", req.Tier)
	return s.backend.SetLevel(ctx, req.Player, req.Tier)
}

func (s *AdminService) RenamePlayer(req *proto.RenamePlayerRequest, rep *proto.RenamePlayerResponse) error {
	ctx, cancel := s.callContext()
	defer cancel()
	s.logger.Info("admin: rename player", "player", req.Player, "name", req.Name)
	return s.backend.RenamePlayer(ctx, req.Player, req.Name)
}

func (s *AdminService) ListPlayers(req *proto.ListPlayersRequest, rep *proto.ListPlayersResponse) error {
	ctx, cancel := s.callContext()
	defer cancel()
	players, err := s.backend.ListPlayers(ctx, req.Pattern)
	if err != nil {
		return err
	}
	rep.Players = make([]proto.PlayerInfo, 0, len(players))
	for _, p := range players {
		rep.Players = append(rep.Players, proto.PlayerInfo{
			Player: p.ID,
			Name:   p.Name,
			Tier:   p.Tier,
			Online: p.Online,
			Blocks: p.Blocks,
		})
	}
	return nil
}

func (s *AdminService) Save(req *proto.SaveRequest, rep *proto.SaveResponse) error {
	ctx, cancel := s.callContext()
	defer cancel()
	path, err := s.backend.Save(ctx)
	if err != nil {
		return err
	}
	rep.Path = path
	return nil
}

func (s *AdminService) Status(req *proto.StatusRequest, rep *proto.StatusResponse) error {
	ctx, cancel := s.callContext()
	defer cancel()
	st, err := s.backend.Status(ctx)
	if err != nil {
		return err
	}
	*rep = proto.StatusResponse{
		Players:     st.Players,
		Connections: st.Connections,
		Blocks:      st.Blocks,
		Selections:  st.Selections,
		Floor:       st.Floor,
		Skybox:      st.Skybox,
	}
	return nil
}

// Watch subscribes the caller's connection to Monitor.Event.
func (s *AdminService) Watch(req *proto.WatchRequest, rep *proto.WatchResponse) error {
	sess, ok := s.server.Session(req.Id)
	if !ok {
		return oops.In("control").Code(CodeUnknownConn).With("control_conn", req.Id).
			Errorf("unknown control connection %d", req.Id)
	}
	sess.watching.Store(true)
	s.logger.Info("admin: watching events", "control_conn", req.Id)
	return nil
}

// EventFrom converts a server event for the wire.
func EventFrom(ev server.Event) proto.Event {
	return proto.Event{
		Kind:   ev.Kind,
		Player: ev.Player,
		Name:   ev.Name,
		UID:    ev.UID,
		Value:  ev.Value,
		Tier:   ev.Tier,
		Time:   ev.Time,
	}
}
