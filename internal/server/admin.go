package server

import (
	"context"
	"sort"
	"strconv"

	"github.com/gobwas/glob"
	"github.com/samber/oops"

	"github.com/teamx/teamx-server/internal/permission"
)

const CodeNoSaver = "NO_SAVER"

// PlayerInfo is a known player as reported to administrators.
type PlayerInfo struct {
	ID     uint64 `json:"id"`
	Name   string `json:"name"`
	Tier   string `json:"tier"`
	Online bool   `json:"online"`
	Blocks int    `json:"blocks"`
}

type Status struct {
	Players     int   `json:"players"`
	Connections int   `json:"connections"`
	Blocks      int   `json:"blocks"`
	Selections  int   `json:"selections"`
	Floor       int32 `json:"floor"`
	Skybox      int32 `json:"skybox"`
}

// SetLevel moves a player to tier. An online player is sent the new rules
// right away.
func (s *Server) SetLevel(ctx context.Context, id uint64, tier string) error {
	return s.Do(ctx, func() error {
		if err := s.oracle.SetLevel(id, tier); err != nil {
			return err
		}
		s.logger.Info("permission level changed", "player", id, "tier", tier)
		if player, ok := s.sessions.LookupByIdentity(id); ok {
			if cs, ok := s.conns[player.Conn.ID()]; ok {
				s.send(cs, rulesPacket(s.oracle.PermissionsFor(id)))
			}
		}
		s.emit(Event{Kind: EventLevel, Player: id, Tier: tier})
		return nil
	})
}

func (s *Server) RenamePlayer(ctx context.Context, id uint64, name string) error {
	return s.Do(ctx, func() error {
		return s.oracle.RenamePlayer(id, name)
	})
}

// ListPlayers returns online and known players whose name or decimal id
// matches pattern. An empty pattern matches everyone.
func (s *Server) ListPlayers(ctx context.Context, pattern string) ([]PlayerInfo, error) {
	if pattern == "" {
		pattern = "*"
	}
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, oops.In("server").With("pattern", pattern).Wrapf(err, "compile pattern")
	}

	out, err := call(ctx, s, func() ([]PlayerInfo, error) {
		var found []PlayerInfo
		known := s.oracle.Players()
		seen := make(map[uint64]bool, len(known))
		add := func(id uint64, p permission.Player, online bool) {
			if !g.Match(p.Name) && !g.Match(strconv.FormatUint(id, 10)) {
				return
			}
			found = append(found, PlayerInfo{
				ID:     id,
				Name:   p.Name,
				Tier:   p.PermissionLevel,
				Online: online,
				Blocks: s.editor.BlocksOwnedBy(id),
			})
		}
		for _, sp := range s.sessions.Players() {
			seen[sp.ID] = true
			p, ok := known[sp.ID]
			if !ok {
				p = permission.Player{Name: sp.Name, PermissionLevel: permission.TierDefault}
			}
			add(sp.ID, p, true)
		}
		for id, p := range known {
			if !seen[id] {
				add(id, p, false)
			}
		}
		return found, nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Online != out[j].Online {
			return out[i].Online
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Save writes a snapshot now and returns its path.
func (s *Server) Save(ctx context.Context) (string, error) {
	return call(ctx, s, func() (string, error) {
		if s.saver == nil {
			return "", oops.In("server").Code(CodeNoSaver).Errorf("saving is not configured")
		}
		return s.save()
	})
}

func (s *Server) Status(ctx context.Context) (Status, error) {
	return call(ctx, s, func() (Status, error) {
		return Status{
			Players:     s.sessions.Len(),
			Connections: len(s.conns),
			Blocks:      s.editor.Len(),
			Selections:  s.editor.Selections(),
			Floor:       s.editor.Floor(),
			Skybox:      s.editor.Skybox(),
		}, nil
	})
}
