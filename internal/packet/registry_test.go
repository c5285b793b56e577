package packet

import (
	"encoding/binary"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStableHash(t *testing.T) {
	assert.Equal(t, int32(0), StableHash(""))
	assert.Equal(t, int32(23*31+'a'), StableHash("a"))
	assert.Equal(t, int32(-684109257), StableHash("HandshakeRequestPacket"))
}

func TestIdentifierOf(t *testing.T) {
	tests := []struct {
		name string
		want uint16
	}{
		{"HandshakeRequestPacket", 21047},
		{"HandshakeResponsePacket", 37353},
		{"PlayerJoinPacket", 22090},
		{"EditorBlockCreatePacket", 3533},
		{"EditorFloorPacket", 1200},
		{"EditorDeselectionPacket", 50831},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IdentifierOf(tt.name))
		})
	}
}

func TestKinds_NoCollisions(t *testing.T) {
	assert.Empty(t, Collisions())

	reg := NewRegistry()
	for _, k := range Kinds() {
		got, ok := reg.Lookup(k.ID())
		require.True(t, ok, k.Name())
		assert.Equal(t, k, got)
	}
}

func TestRegistry_LaterRegistrationWins(t *testing.T) {
	reg := &Registry{kinds: map[uint16]Kind{}}

	_, replaced := reg.Register(KindPlayerJoin)
	assert.False(t, replaced)

	// Force a collision by planting a different kind under PlayerJoin's id.
	reg.kinds[KindPlayerJoin.ID()] = KindPlayerLeft
	prev, replaced := reg.Register(KindPlayerJoin)
	assert.True(t, replaced)
	assert.Equal(t, KindPlayerLeft, prev)

	got, ok := reg.Lookup(KindPlayerJoin.ID())
	require.True(t, ok)
	assert.Equal(t, KindPlayerJoin, got)

	_, replaced = reg.Register(KindPlayerJoin)
	assert.False(t, replaced, "re-registering the same kind is not a collision")
}

func TestDecode_UnknownID(t *testing.T) {
	reg := NewRegistry()
	frame := binary.LittleEndian.AppendUint16(nil, 1)

	_, err := reg.Decode(frame)
	require.Error(t, err)
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok)
	assert.Equal(t, CodeUnknown, oopsErr.Code())
}

func TestDecode_EmptyFrame(t *testing.T) {
	_, err := NewRegistry().Decode(nil)
	require.Error(t, err)
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok)
	assert.Equal(t, CodeMalformed, oopsErr.Code())
}

func TestDecode_Truncated(t *testing.T) {
	frame := Encode(&EditorBlockCreate{SteamID: 7, BlockString: "some block"})

	for n := 2; n < len(frame); n++ {
		_, err := NewRegistry().Decode(frame[:n])
		require.Error(t, err, "prefix of %d bytes", n)
		oopsErr, ok := oops.AsOops(err)
		require.True(t, ok)
		assert.Equal(t, CodeMalformed, oopsErr.Code())
	}
}

func TestDecode_HugeListCount(t *testing.T) {
	w := NewWriter(16)
	w.WriteUint16(KindEditorStateResponse.ID())
	w.WriteInt32(90)
	w.WriteInt32(0)
	w.WriteInt32(1 << 30)

	_, err := NewRegistry().Decode(w.Bytes())
	require.Error(t, err)
}

func TestEncodeDecode_AllKinds(t *testing.T) {
	packets := []Packet{
		&HandshakeRequest{Message: "Welcome"},
		&HandshakeResponse{SteamID: 76561198000000001},
		&AccessGranted{Message: "Access Granted.", Level: 3},
		&AccessDenied{Reason: "banned"},
		&PlayerJoin{SteamID: 1, Name: "Zeeper", Cosmetics: Cosmetics{Zeepkist: 4, Hat: 9, Color: -1}},
		&PlayerLeft{SteamID: 2},
		&PlayerState{SteamID: 3, Position: Vector3{1, 2, 3}, Euler: Vector3{-1, 0.5, 90}, Mode: 2},
		&EditorStateRequest{SteamID: 4},
		&EditorStateResponse{Floor: 90, Skybox: 3, Blocks: []string{"a", "ünïcode"}},
		&ServerRulesRequest{SteamID: 5},
		&ServerRulesResponse{CanJoin: true, CanEditSkybox: true, BlockLimit: 200, BannedBlocks: []int32{1, 2, 3}},
		&EditorBlockCreate{SteamID: 6, BlockString: "{}"},
		&EditorBlockCreateDenied{UID: "b1"},
		&EditorBlockUpdate{SteamID: 7, BlockString: "{}"},
		&EditorBlockUpdateDenied{BlockString: ""},
		&EditorBlockDestroy{SteamID: 8, UID: "b2"},
		&EditorBlockDestroyDenied{BlockString: "{}"},
		&EditorFloor{SteamID: 9, Floor: -5},
		&EditorFloorDenied{Floor: 90},
		&EditorSkybox{SteamID: 10, Skybox: 7},
		&EditorSkyboxDenied{Skybox: 0},
		&EditorSelection{SteamID: 11, UID: "b3"},
		&EditorSelectionDenied{UID: "b3"},
		&EditorDeselection{SteamID: 12, UID: "b3"},
	}
	require.Len(t, packets, len(Kinds()), "every kind is exercised")

	reg := NewRegistry()
	for _, p := range packets {
		t.Run(KindOf(p).Name(), func(t *testing.T) {
			frame := Encode(p)
			assert.Equal(t, KindOf(p).ID(), binary.LittleEndian.Uint16(frame))

			got, err := reg.Decode(frame)
			require.NoError(t, err)
			assert.Equal(t, p, got)
		})
	}
}
