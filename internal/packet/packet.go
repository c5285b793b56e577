// Package packet defines the editor wire protocol: a closed set of message
// variants, each framed as a 16-bit type identifier followed by the variant's
// fields in a fixed order.
package packet

// Packet is implemented by every wire variant in this package and nothing
// else.
type Packet interface {
	kind() Kind
}

// Kind enumerates the variants. The order carries no meaning on the wire;
// identifiers are derived from names (see IdentifierOf).
type Kind int

const (
	KindHandshakeRequest Kind = iota
	KindHandshakeResponse
	KindAccessGranted
	KindAccessDenied
	KindPlayerJoin
	KindPlayerLeft
	KindPlayerState
	KindEditorStateRequest
	KindEditorStateResponse
	KindServerRulesRequest
	KindServerRulesResponse
	KindEditorBlockCreate
	KindEditorBlockCreateDenied
	KindEditorBlockUpdate
	KindEditorBlockUpdateDenied
	KindEditorBlockDestroy
	KindEditorBlockDestroyDenied
	KindEditorFloor
	KindEditorFloorDenied
	KindEditorSkybox
	KindEditorSkyboxDenied
	KindEditorSelection
	KindEditorSelectionDenied
	KindEditorDeselection

	numKinds
)

var kindNames = [numKinds]string{
	KindHandshakeRequest:         "HandshakeRequestPacket",
	KindHandshakeResponse:        "HandshakeResponsePacket",
	KindAccessGranted:            "AccessGrantedPacket",
	KindAccessDenied:             "AccessDeniedPacket",
	KindPlayerJoin:               "PlayerJoinPacket",
	KindPlayerLeft:               "PlayerLeftPacket",
	KindPlayerState:              "PlayerStatePacket",
	KindEditorStateRequest:       "EditorStateRequestPacket",
	KindEditorStateResponse:      "EditorStateResponsePacket",
	KindServerRulesRequest:       "ServerRulesRequestPacket",
	KindServerRulesResponse:      "ServerRulesResponsePacket",
	KindEditorBlockCreate:        "EditorBlockCreatePacket",
	KindEditorBlockCreateDenied:  "EditorBlockCreateDeniedPacket",
	KindEditorBlockUpdate:        "EditorBlockUpdatePacket",
	KindEditorBlockUpdateDenied:  "EditorBlockUpdateDeniedPacket",
	KindEditorBlockDestroy:       "EditorBlockDestroyPacket",
	KindEditorBlockDestroyDenied: "EditorBlockDestroyDeniedPacket",
	KindEditorFloor:              "EditorFloorPacket",
	KindEditorFloorDenied:        "EditorFloorDeniedPacket",
	KindEditorSkybox:             "EditorSkyboxPacket",
	KindEditorSkyboxDenied:       "EditorSkyboxDeniedPacket",
	KindEditorSelection:          "EditorSelectionPacket",
	KindEditorSelectionDenied:    "EditorSelectionDeniedPacket",
	KindEditorDeselection:        "EditorDeselectionPacket",
}

// Name is the declared wire name the identifier is hashed from.
func (k Kind) Name() string {
	if k < 0 || k >= numKinds {
		return "Unknown"
	}
	return kindNames[k]
}

func (k Kind) String() string {
	return k.Name()
}

// ID is the 16-bit wire identifier of the variant.
func (k Kind) ID() uint16 {
	return IdentifierOf(k.Name())
}

// Kinds lists every variant in declaration order.
func Kinds() []Kind {
	out := make([]Kind, 0, numKinds)
	for k := Kind(0); k < numKinds; k++ {
		out = append(out, k)
	}
	return out
}

// KindOf returns the variant tag of p.
func KindOf(p Packet) Kind {
	return p.kind()
}

type HandshakeRequest struct {
	Message string
}

type HandshakeResponse struct {
	SteamID uint64
}

type AccessGranted struct {
	Message string
	Level   byte
}

type AccessDenied struct {
	Reason string
}

// Cosmetics are the avatar customization fields. The server stores and
// relays them without interpretation.
type Cosmetics struct {
	Zeepkist      int32
	FrontWheels   int32
	RearWheels    int32
	Paraglider    int32
	Horn          int32
	Hat           int32
	Glasses       int32
	ColorBody     int32
	ColorLeftArm  int32
	ColorRightArm int32
	ColorLeftLeg  int32
	ColorRightLeg int32
	Color         int32
}

type PlayerJoin struct {
	SteamID   uint64
	Name      string
	Cosmetics Cosmetics
}

type PlayerLeft struct {
	SteamID uint64
}

type Vector3 struct {
	X, Y, Z float32
}

type PlayerState struct {
	SteamID  uint64
	Position Vector3
	Euler    Vector3
	Mode     byte
}

type EditorStateRequest struct {
	SteamID uint64
}

// EditorStateResponse carries the full world. The block count on the wire is
// always len(Blocks).
type EditorStateResponse struct {
	Floor  int32
	Skybox int32
	Blocks []string
}

type ServerRulesRequest struct {
	SteamID uint64
}

type ServerRulesResponse struct {
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

type EditorBlockCreate struct {
	SteamID     uint64
	BlockString string
}

type EditorBlockCreateDenied struct {
	UID string
}

type EditorBlockUpdate struct {
	SteamID     uint64
	BlockString string
}

type EditorBlockUpdateDenied struct {
	BlockString string
}

type EditorBlockDestroy struct {
	SteamID uint64
	UID     string
}

type EditorBlockDestroyDenied struct {
	BlockString string
}

type EditorFloor struct {
	SteamID uint64
	Floor   int32
}

type EditorFloorDenied struct {
	Floor int32
}

type EditorSkybox struct {
	SteamID uint64
	Skybox  int32
}

type EditorSkyboxDenied struct {
	Skybox int32
}

type EditorSelection struct {
	SteamID uint64
	UID     string
}

type EditorSelectionDenied struct {
	UID string
}

type EditorDeselection struct {
	SteamID uint64
	UID     string
}

func (*HandshakeRequest) kind() Kind         { return KindHandshakeRequest }
func (*HandshakeResponse) kind() Kind        { return KindHandshakeResponse }
func (*AccessGranted) kind() Kind            { return KindAccessGranted }
func (*AccessDenied) kind() Kind             { return KindAccessDenied }
func (*PlayerJoin) kind() Kind               { return KindPlayerJoin }
func (*PlayerLeft) kind() Kind               { return KindPlayerLeft }
func (*PlayerState) kind() Kind              { return KindPlayerState }
func (*EditorStateRequest) kind() Kind       { return KindEditorStateRequest }
func (*EditorStateResponse) kind() Kind      { return KindEditorStateResponse }
func (*ServerRulesRequest) kind() Kind       { return KindServerRulesRequest }
func (*ServerRulesResponse) kind() Kind      { return KindServerRulesResponse }
func (*EditorBlockCreate) kind() Kind        { return KindEditorBlockCreate }
func (*EditorBlockCreateDenied) kind() Kind  { return KindEditorBlockCreateDenied }
func (*EditorBlockUpdate) kind() Kind        { return KindEditorBlockUpdate }
func (*EditorBlockUpdateDenied) kind() Kind  { return KindEditorBlockUpdateDenied }
func (*EditorBlockDestroy) kind() Kind       { return KindEditorBlockDestroy }
func (*EditorBlockDestroyDenied) kind() Kind { return KindEditorBlockDestroyDenied }
func (*EditorFloor) kind() Kind              { return KindEditorFloor }
func (*EditorFloorDenied) kind() Kind        { return KindEditorFloorDenied }
func (*EditorSkybox) kind() Kind             { return KindEditorSkybox }
func (*EditorSkyboxDenied) kind() Kind       { return KindEditorSkyboxDenied }
func (*EditorSelection) kind() Kind          { return KindEditorSelection }
func (*EditorSelectionDenied) kind() Kind    { return KindEditorSelectionDenied }
func (*EditorDeselection) kind() Kind        { return KindEditorDeselection }
