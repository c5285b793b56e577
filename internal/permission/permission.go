// Package permission decides what each player may do.
//
// Players are assigned a named tier; the tier's Entry carries the capability
// flags. A player seen for the first time is given the default tier and
// persisted immediately, so a later lookup returns the same tier.
package permission

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/samber/oops"
)

const (
	CodeUnknownTier   = "UNKNOWN_TIER"
	CodeUnknownPlayer = "UNKNOWN_PLAYER"
)

const (
	TierDefault       = "default"
	TierBanned        = "banned"
	TierModerator     = "moderator"
	TierAdministrator = "administrator"
)

type Entry struct {
	Level           byte
	IsAdministrator bool
	CanJoin         bool
	CanCreate       bool
	CanEdit         bool
	CanEditAll      bool
	CanEditFloor    bool
	CanEditSkybox   bool
	CanDestroy      bool
	BlockLimit      int32
	BannedBlocks    []int32
}

// IsBanned reports whether blocks of type t may not be placed.
func (e Entry) IsBanned(t int32) bool {
	return slices.Contains(e.BannedBlocks, t)
}

// DefaultEntry is used for new players and for players whose tier has gone
// missing from the store.
func DefaultEntry() Entry {
	return Entry{
		Level:      1,
		CanJoin:    true,
		CanCreate:  true,
		CanEdit:    true,
		CanDestroy: true,
		BlockLimit: 200,
	}
}

// DefaultTiers are written to an empty store.
func DefaultTiers() map[string]Entry {
	return map[string]Entry{
		TierBanned:  {Level: 0},
		TierDefault: DefaultEntry(),
		TierModerator: {
			Level:         2,
			CanJoin:       true,
			CanCreate:     true,
			CanEdit:       true,
			CanEditAll:    true,
			CanEditFloor:  true,
			CanEditSkybox: true,
			CanDestroy:    true,
			BlockLimit:    1000,
		},
		TierAdministrator: {
			Level:           3,
			IsAdministrator: true,
			CanJoin:         true,
			CanCreate:       true,
			CanEdit:         true,
			CanEditAll:      true,
			CanEditFloor:    true,
			CanEditSkybox:   true,
			CanDestroy:      true,
		},
	}
}

type Player struct {
	Name            string
	PermissionLevel string
}

func DefaultName(id uint64) string {
	return fmt.Sprintf("Player_%d", id)
}

// Oracle answers permission queries from an in-memory view of the store and
// writes every change through. It is not safe for concurrent use.
type Oracle struct {
	store   Store
	logger  *slog.Logger
	players map[uint64]Player
	tiers   map[string]Entry
}

func NewOracle(store Store, logger *slog.Logger) (*Oracle, error) {
	tiers, err := store.Tiers()
	if err != nil {
		return nil, oops.In("permission").Wrapf(err, "load tiers")
	}
	if len(tiers) == 0 {
		tiers = DefaultTiers()
		for name, e := range tiers {
			if err := store.PutTier(name, e); err != nil {
				return nil, oops.In("permission").With("tier", name).Wrapf(err, "seed tier")
			}
		}
		logger.Info("seeded default permission tiers", "count", len(tiers))
	}
	players, err := store.Players()
	if err != nil {
		return nil, oops.In("permission").Wrapf(err, "load players")
	}
	return &Oracle{
		store:   store,
		logger:  logger,
		players: players,
		tiers:   tiers,
	}, nil
}

// PermissionsFor returns the entry of id's tier, registering id with the
// default tier on first contact.
func (o *Oracle) PermissionsFor(id uint64) Entry {
	p, ok := o.players[id]
	if !ok {
		p = Player{Name: DefaultName(id), PermissionLevel: TierDefault}
		o.players[id] = p
		if err := o.store.PutPlayer(id, p); err != nil {
			o.logger.Error("persist new player", "player", id, "error", err)
		}
	}
	e, ok := o.tiers[p.PermissionLevel]
	if !ok {
		o.logger.Warn("player has unknown tier, using default", "player", id, "tier", p.PermissionLevel)
		return DefaultEntry()
	}
	return e
}

func (o *Oracle) CanJoin(id uint64) bool {
	return o.PermissionsFor(id).CanJoin
}

// SetLevel moves id to tier, creating the player if needed.
func (o *Oracle) SetLevel(id uint64, tier string) error {
	if _, ok := o.tiers[tier]; !ok {
		return oops.In("permission").Code(CodeUnknownTier).With("tier", tier).Errorf("unknown tier %q", tier)
	}
	p, ok := o.players[id]
	if !ok {
		p.Name = DefaultName(id)
	}
	p.PermissionLevel = tier
	if err := o.store.PutPlayer(id, p); err != nil {
		return oops.In("permission").With("player", id).Wrapf(err, "store player")
	}
	o.players[id] = p
	return nil
}

func (o *Oracle) RenamePlayer(id uint64, name string) error {
	p, ok := o.players[id]
	if !ok {
		return oops.In("permission").Code(CodeUnknownPlayer).With("player", id).Errorf("unknown player %d", id)
	}
	p.Name = name
	if err := o.store.PutPlayer(id, p); err != nil {
		return oops.In("permission").With("player", id).Wrapf(err, "store player")
	}
	o.players[id] = p
	return nil
}

func (o *Oracle) Player(id uint64) (Player, bool) {
	p, ok := o.players[id]
	return p, ok
}

// Players returns a copy of every known player.
func (o *Oracle) Players() map[uint64]Player {
	out := make(map[uint64]Player, len(o.players))
	for id, p := range o.players {
		out[id] = p
	}
	return out
}

func (o *Oracle) Tiers() map[string]Entry {
	out := make(map[string]Entry, len(o.tiers))
	for name, e := range o.tiers {
		out[name] = e
	}
	return out
}
