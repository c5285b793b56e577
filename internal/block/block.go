// Package block reads the client-supplied block payload.
//
// A block arrives as a JSON string of the form
//
//	{"blockPropertyJSON":{"u":"<uid>","i":<type>,"p":[...],...},"SteamID":<owner>}
//
// The server needs the UID, the owner, the block type and the transform
// properties. Everything else is the client's business, so the original
// string is kept and echoed back byte for byte.
package block

import (
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/samber/oops"
)

const CodeMalformed = "MALFORMED_BLOCK"

type Block struct {
	UID        string
	Owner      uint64
	Type       int32
	Properties []float64

	raw string
}

type properties struct {
	UID        string    `json:"u"`
	Type       int32     `json:"i"`
	Properties []float64 `json:"p"`
}

type envelope struct {
	Properties *properties `json:"blockPropertyJSON"`
	SteamID    uint64      `json:"SteamID"`
}

// Parse extracts the fields the server reasons about from s.
func Parse(s string) (Block, error) {
	var env envelope
	if err := json.Unmarshal([]byte(s), &env); err != nil {
		return Block{}, oops.In("block").Code(CodeMalformed).Wrapf(err, "parse block")
	}
	if env.Properties == nil {
		return Block{}, oops.In("block").Code(CodeMalformed).Errorf("block has no blockPropertyJSON")
	}
	if env.Properties.UID == "" {
		return Block{}, oops.In("block").Code(CodeMalformed).Errorf("block has no uid")
	}
	return Block{
		UID:        env.Properties.UID,
		Owner:      env.SteamID,
		Type:       env.Properties.Type,
		Properties: env.Properties.Properties,
		raw:        s,
	}, nil
}

// New builds a block whose canonical string is generated from the fields.
func New(uid string, owner uint64, typ int32, props []float64) Block {
	b := Block{UID: uid, Owner: owner, Type: typ, Properties: props}
	raw, _ := json.Marshal(envelope{
		Properties: &properties{UID: uid, Type: typ, Properties: props},
		SteamID:    owner,
	})
	b.raw = string(raw)
	return b
}

// Clone returns a copy that shares no memory with b.
func (b Block) Clone() Block {
	if b.Properties != nil {
		b.Properties = append([]float64(nil), b.Properties...)
	}
	return b
}

// String returns the block exactly as the client sent it.
func (b Block) String() string {
	return b.raw
}

// CSV renders the block as a zeeplevel line: type followed by properties.
func (b Block) CSV() string {
	var sb strings.Builder
	sb.WriteString(strconv.FormatInt(int64(b.Type), 10))
	for _, p := range b.Properties {
		sb.WriteByte(',')
		sb.WriteString(strconv.FormatFloat(p, 'f', -1, 32))
	}
	return sb.String()
}

func (b Block) MarshalJSON() ([]byte, error) {
	if b.raw == "" {
		return []byte("null"), nil
	}
	return []byte(b.raw), nil
}

func (b *Block) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}
