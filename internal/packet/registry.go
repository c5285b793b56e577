package packet

import (
	"unicode/utf16"

	"github.com/samber/oops"
)

// Error codes reported by Decode.
const (
	CodeUnknown   = "UNKNOWN_PACKET"
	CodeMalformed = "MALFORMED_PACKET"
)

// StableHash is the name hash both ends of the connection agree on:
// h = 23, then h = h*31 + c for every UTF-16 code unit, with 32-bit
// wrap-around. The empty string hashes to 0.
func StableHash(s string) int32 {
	if s == "" {
		return 0
	}
	h := int32(23)
	for _, c := range utf16.Encode([]rune(s)) {
		h = h*31 + int32(c)
	}
	return h
}

// IdentifierOf truncates the stable hash of name to the 16-bit wire id.
func IdentifierOf(name string) uint16 {
	return uint16(StableHash(name) & 0xFFFF)
}

type decodeFunc func(r *Reader) Packet

// Registry maps wire identifiers back to variants.
type Registry struct {
	kinds map[uint16]Kind
}

// NewRegistry returns a registry with every variant registered.
func NewRegistry() *Registry {
	reg := &Registry{kinds: make(map[uint16]Kind, numKinds)}
	for _, k := range Kinds() {
		reg.Register(k)
	}
	return reg
}

// Register maps k's identifier to k. When another variant already hashed to
// the same identifier it is replaced, and returned with replaced=true so the
// caller can report the collision.
func (reg *Registry) Register(k Kind) (prev Kind, replaced bool) {
	id := k.ID()
	prev, replaced = reg.kinds[id]
	if replaced && prev == k {
		replaced = false
	}
	reg.kinds[id] = k
	return prev, replaced
}

// Lookup returns the variant registered for id.
func (reg *Registry) Lookup(id uint16) (Kind, bool) {
	k, ok := reg.kinds[id]
	return k, ok
}

// Collisions reports every pair of variants whose names hash to the same
// identifier, in declaration order.
func Collisions() [][2]Kind {
	seen := make(map[uint16]Kind, numKinds)
	var out [][2]Kind
	for _, k := range Kinds() {
		if prev, ok := seen[k.ID()]; ok {
			out = append(out, [2]Kind{prev, k})
		}
		seen[k.ID()] = k
	}
	return out
}

// Decode reads the identifier and the variant fields from a frame.
func (reg *Registry) Decode(frame []byte) (Packet, error) {
	r := NewReader(frame)
	id := r.Uint16()
	if err := r.Err(); err != nil {
		return nil, err
	}
	k, ok := reg.kinds[id]
	if !ok {
		return nil, oops.In("packet").
			Code(CodeUnknown).
			With("id", id).
			Errorf("unknown packet id %d", id)
	}
	p := decoders[k](r)
	if err := r.Err(); err != nil {
		return nil, oops.In("packet").
			Code(CodeMalformed).
			With("packet", k.Name()).
			Wrapf(err, "decode %s", k.Name())
	}
	return p, nil
}

// Encode frames p: identifier first, then the fields.
func Encode(p Packet) []byte {
	w := NewWriter(64)
	w.WriteUint16(p.kind().ID())
	writeBody(w, p)
	return w.Bytes()
}

func writeBody(w *Writer, p Packet) {
	switch p := p.(type) {
	case *HandshakeRequest:
		w.WriteString(p.Message)
	case *HandshakeResponse:
		w.WriteUint64(p.SteamID)
	case *AccessGranted:
		w.WriteString(p.Message)
		_ = w.WriteByte(p.Level)
	case *AccessDenied:
		w.WriteString(p.Reason)
	case *PlayerJoin:
		w.WriteUint64(p.SteamID)
		w.WriteString(p.Name)
		writeCosmetics(w, &p.Cosmetics)
	case *PlayerLeft:
		w.WriteUint64(p.SteamID)
	case *PlayerState:
		w.WriteUint64(p.SteamID)
		writeVector(w, p.Position)
		writeVector(w, p.Euler)
		_ = w.WriteByte(p.Mode)
	case *EditorStateRequest:
		w.WriteUint64(p.SteamID)
	case *EditorStateResponse:
		w.WriteInt32(p.Floor)
		w.WriteInt32(p.Skybox)
		w.WriteStrings(p.Blocks)
	case *ServerRulesRequest:
		w.WriteUint64(p.SteamID)
	case *ServerRulesResponse:
		w.WriteBool(p.IsAdministrator)
		w.WriteBool(p.CanJoin)
		w.WriteBool(p.CanCreate)
		w.WriteBool(p.CanEdit)
		w.WriteBool(p.CanEditAll)
		w.WriteBool(p.CanEditFloor)
		w.WriteBool(p.CanEditSkybox)
		w.WriteBool(p.CanDestroy)
		w.WriteInt32(p.BlockLimit)
		w.WriteInt32s(p.BannedBlocks)
	case *EditorBlockCreate:
		w.WriteUint64(p.SteamID)
		w.WriteString(p.BlockString)
	case *EditorBlockCreateDenied:
		w.WriteString(p.UID)
	case *EditorBlockUpdate:
		w.WriteUint64(p.SteamID)
		w.WriteString(p.BlockString)
	case *EditorBlockUpdateDenied:
		w.WriteString(p.BlockString)
	case *EditorBlockDestroy:
		w.WriteUint64(p.SteamID)
		w.WriteString(p.UID)
	case *EditorBlockDestroyDenied:
		w.WriteString(p.BlockString)
	case *EditorFloor:
		w.WriteUint64(p.SteamID)
		w.WriteInt32(p.Floor)
	case *EditorFloorDenied:
		w.WriteInt32(p.Floor)
	case *EditorSkybox:
		w.WriteUint64(p.SteamID)
		w.WriteInt32(p.Skybox)
	case *EditorSkyboxDenied:
		w.WriteInt32(p.Skybox)
	case *EditorSelection:
		w.WriteUint64(p.SteamID)
		w.WriteString(p.UID)
	case *EditorSelectionDenied:
		w.WriteString(p.UID)
	case *EditorDeselection:
		w.WriteUint64(p.SteamID)
		w.WriteString(p.UID)
	}
}

func writeVector(w *Writer, v Vector3) {
	w.WriteFloat32(v.X)
	w.WriteFloat32(v.Y)
	w.WriteFloat32(v.Z)
}

func readVector(r *Reader) Vector3 {
	return Vector3{X: r.Float32(), Y: r.Float32(), Z: r.Float32()}
}

func writeCosmetics(w *Writer, c *Cosmetics) {
	for _, v := range [...]int32{
		c.Zeepkist, c.FrontWheels, c.RearWheels, c.Paraglider, c.Horn, c.Hat, c.Glasses,
		c.ColorBody, c.ColorLeftArm, c.ColorRightArm, c.ColorLeftLeg, c.ColorRightLeg, c.Color,
	} {
		w.WriteInt32(v)
	}
}

func readCosmetics(r *Reader) Cosmetics {
	var c Cosmetics
	for _, f := range [...]*int32{
		&c.Zeepkist, &c.FrontWheels, &c.RearWheels, &c.Paraglider, &c.Horn, &c.Hat, &c.Glasses,
		&c.ColorBody, &c.ColorLeftArm, &c.ColorRightArm, &c.ColorLeftLeg, &c.ColorRightLeg, &c.Color,
	} {
		*f = r.Int32()
	}
	return c
}

var decoders = [numKinds]decodeFunc{
	KindHandshakeRequest: func(r *Reader) Packet {
		return &HandshakeRequest{Message: r.Text()}
	},
	KindHandshakeResponse: func(r *Reader) Packet {
		return &HandshakeResponse{SteamID: r.Uint64()}
	},
	KindAccessGranted: func(r *Reader) Packet {
		return &AccessGranted{Message: r.Text(), Level: r.Byte()}
	},
	KindAccessDenied: func(r *Reader) Packet {
		return &AccessDenied{Reason: r.Text()}
	},
	KindPlayerJoin: func(r *Reader) Packet {
		return &PlayerJoin{SteamID: r.Uint64(), Name: r.Text(), Cosmetics: readCosmetics(r)}
	},
	KindPlayerLeft: func(r *Reader) Packet {
		return &PlayerLeft{SteamID: r.Uint64()}
	},
	KindPlayerState: func(r *Reader) Packet {
		return &PlayerState{SteamID: r.Uint64(), Position: readVector(r), Euler: readVector(r), Mode: r.Byte()}
	},
	KindEditorStateRequest: func(r *Reader) Packet {
		return &EditorStateRequest{SteamID: r.Uint64()}
	},
	KindEditorStateResponse: func(r *Reader) Packet {
		return &EditorStateResponse{Floor: r.Int32(), Skybox: r.Int32(), Blocks: r.Strings()}
	},
	KindServerRulesRequest: func(r *Reader) Packet {
		return &ServerRulesRequest{SteamID: r.Uint64()}
	},
	KindServerRulesResponse: func(r *Reader) Packet {
		return &ServerRulesResponse{
			IsAdministrator: r.Bool(),
			CanJoin:         r.Bool(),
			CanCreate:       r.Bool(),
			CanEdit:         r.Bool(),
			CanEditAll:      r.Bool(),
			CanEditFloor:    r.Bool(),
			CanEditSkybox:   r.Bool(),
			CanDestroy:      r.Bool(),
			BlockLimit:      r.Int32(),
			BannedBlocks:    r.Int32s(),
		}
	},
	KindEditorBlockCreate: func(r *Reader) Packet {
		return &EditorBlockCreate{SteamID: r.Uint64(), BlockString: r.Text()}
	},
	KindEditorBlockCreateDenied: func(r *Reader) Packet {
		return &EditorBlockCreateDenied{UID: r.Text()}
	},
	KindEditorBlockUpdate: func(r *Reader) Packet {
		return &EditorBlockUpdate{SteamID: r.Uint64(), BlockString: r.Text()}
	},
	KindEditorBlockUpdateDenied: func(r *Reader) Packet {
		return &EditorBlockUpdateDenied{BlockString: r.Text()}
	},
	KindEditorBlockDestroy: func(r *Reader) Packet {
		return &EditorBlockDestroy{SteamID: r.Uint64(), UID: r.Text()}
	},
	KindEditorBlockDestroyDenied: func(r *Reader) Packet {
		return &EditorBlockDestroyDenied{BlockString: r.Text()}
	},
	KindEditorFloor: func(r *Reader) Packet {
		return &EditorFloor{SteamID: r.Uint64(), Floor: r.Int32()}
	},
	KindEditorFloorDenied: func(r *Reader) Packet {
		return &EditorFloorDenied{Floor: r.Int32()}
	},
	KindEditorSkybox: func(r *Reader) Packet {
		return &EditorSkybox{SteamID: r.Uint64(), Skybox: r.Int32()}
	},
	KindEditorSkyboxDenied: func(r *Reader) Packet {
		return &EditorSkyboxDenied{Skybox: r.Int32()}
	},
	KindEditorSelection: func(r *Reader) Packet {
		return &EditorSelection{SteamID: r.Uint64(), UID: r.Text()}
	},
	KindEditorSelectionDenied: func(r *Reader) Packet {
		return &EditorSelectionDenied{UID: r.Text()}
	},
	KindEditorDeselection: func(r *Reader) Packet {
		return &EditorDeselection{SteamID: r.Uint64(), UID: r.Text()}
	},
}
