package permission

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamx/teamx-server/internal/errutil"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newOracle(t *testing.T, store Store) *Oracle {
	t.Helper()
	o, err := NewOracle(store, discard())
	require.NoError(t, err)
	return o
}

func openBolt(t *testing.T, path string) *BoltStore {
	t.Helper()
	s, err := OpenBoltStore(path)
	require.NoError(t, err)
	return s
}

func TestNewOracle_SeedsTiers(t *testing.T) {
	store := NewMemStore()
	o := newOracle(t, store)

	tiers, err := store.Tiers()
	require.NoError(t, err)
	assert.Len(t, tiers, 4)
	assert.Equal(t, o.Tiers(), tiers)
	assert.False(t, tiers[TierBanned].CanJoin)
	assert.True(t, tiers[TierAdministrator].IsAdministrator)
}

func TestNewOracle_KeepsExistingTiers(t *testing.T) {
	store := NewMemStore()
	require.NoError(t, store.PutTier("custom", Entry{CanJoin: true}))

	o := newOracle(t, store)
	assert.Len(t, o.Tiers(), 1)
}

func TestPermissionsFor_DefaultPersisted(t *testing.T) {
	store := NewMemStore()
	o := newOracle(t, store)

	e := o.PermissionsFor(42)
	assert.Equal(t, DefaultEntry(), e)
	assert.True(t, e.CanJoin)
	assert.True(t, e.CanCreate)
	assert.True(t, e.CanEdit)
	assert.True(t, e.CanDestroy)
	assert.False(t, e.CanEditAll)
	assert.False(t, e.CanEditFloor)
	assert.False(t, e.CanEditSkybox)
	assert.Equal(t, int32(200), e.BlockLimit)

	players, err := store.Players()
	require.NoError(t, err)
	assert.Equal(t, Player{Name: "Player_42", PermissionLevel: TierDefault}, players[42])

	// A fresh oracle over the same store sees the same tier.
	again := newOracle(t, store)
	p, ok := again.Player(42)
	require.True(t, ok)
	assert.Equal(t, TierDefault, p.PermissionLevel)
	assert.Equal(t, e, again.PermissionsFor(42))
}

func TestCanJoin_Banned(t *testing.T) {
	o := newOracle(t, NewMemStore())
	assert.True(t, o.CanJoin(7))

	require.NoError(t, o.SetLevel(7, TierBanned))
	assert.False(t, o.CanJoin(7))
}

func TestSetLevel(t *testing.T) {
	o := newOracle(t, NewMemStore())

	errutil.AssertErrorCode(t, o.SetLevel(1, "wizard"), CodeUnknownTier)
	_, ok := o.Player(1)
	assert.False(t, ok, "failed SetLevel creates nothing")

	require.NoError(t, o.SetLevel(1, TierModerator))
	p, ok := o.Player(1)
	require.True(t, ok)
	assert.Equal(t, Player{Name: "Player_1", PermissionLevel: TierModerator}, p)
	assert.True(t, o.PermissionsFor(1).CanEditAll)
	assert.Equal(t, byte(2), o.PermissionsFor(1).Level)
}

func TestRenamePlayer(t *testing.T) {
	o := newOracle(t, NewMemStore())

	errutil.AssertErrorCode(t, o.RenamePlayer(5, "Ghost"), CodeUnknownPlayer)

	o.PermissionsFor(5)
	require.NoError(t, o.RenamePlayer(5, "Zeeper"))
	p, _ := o.Player(5)
	assert.Equal(t, "Zeeper", p.Name)
	assert.Equal(t, TierDefault, p.PermissionLevel)
}

func TestPermissionsFor_MissingTierFallsBack(t *testing.T) {
	store := NewMemStore()
	require.NoError(t, store.PutPlayer(9, Player{Name: "x", PermissionLevel: "gone"}))
	o := newOracle(t, store)

	assert.Equal(t, DefaultEntry(), o.PermissionsFor(9))
}

func TestEntry_IsBanned(t *testing.T) {
	e := Entry{BannedBlocks: []int32{3, 1337}}
	assert.True(t, e.IsBanned(1337))
	assert.False(t, e.IsBanned(4))
}

func TestBoltStore_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "permissions.db")

	store := openBolt(t, path)
	o := newOracle(t, store)
	o.PermissionsFor(76561198000000001)
	require.NoError(t, o.SetLevel(2, TierAdministrator))
	require.NoError(t, o.RenamePlayer(2, "Boss"))
	require.NoError(t, store.Close())

	store = openBolt(t, path)
	defer store.Close()

	players, err := store.Players()
	require.NoError(t, err)
	assert.Equal(t, Player{Name: "Player_76561198000000001", PermissionLevel: TierDefault}, players[76561198000000001])
	assert.Equal(t, Player{Name: "Boss", PermissionLevel: TierAdministrator}, players[2])

	tiers, err := store.Tiers()
	require.NoError(t, err)
	assert.Equal(t, DefaultTiers(), tiers)

	o = newOracle(t, store)
	assert.True(t, o.PermissionsFor(2).IsAdministrator)
}
