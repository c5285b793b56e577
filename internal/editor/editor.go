// Package editor holds the shared world: floor, skybox, the placed blocks and
// the selection locks that decide who may change which block.
//
// An Editor is not safe for concurrent use. The server loop owns it.
package editor

import (
	"slices"
	"sort"

	"github.com/samber/oops"

	"github.com/teamx/teamx-server/internal/block"
)

const (
	CodeDuplicateUID    = "DUPLICATE_UID"
	CodeBlockNotFound   = "BLOCK_NOT_FOUND"
	CodeSelectedByOther = "SELECTED_BY_OTHER"
	CodeNotOwner        = "NOT_OWNER"
)

const (
	DefaultFloor  int32 = 90
	DefaultSkybox int32 = 0
)

type Editor struct {
	floor  int32
	skybox int32

	blocks     map[string]block.Block
	selections map[string]uint64 // uid -> holder
}

func New() *Editor {
	return &Editor{
		floor:      DefaultFloor,
		skybox:     DefaultSkybox,
		blocks:     make(map[string]block.Block),
		selections: make(map[string]uint64),
	}
}

func (e *Editor) Floor() int32  { return e.floor }
func (e *Editor) Skybox() int32 { return e.skybox }

func (e *Editor) SetFloor(v int32)  { e.floor = v }
func (e *Editor) SetSkybox(v int32) { e.skybox = v }

func (e *Editor) Len() int { return len(e.blocks) }

func (e *Editor) Block(uid string) (block.Block, bool) {
	b, ok := e.blocks[uid]
	return b, ok
}

// BlockString is the canonical string of uid, or "" when there is no such
// block.
func (e *Editor) BlockString(uid string) string {
	return e.blocks[uid].String()
}

// Add inserts b. An existing block with the same UID is left untouched.
func (e *Editor) Add(b block.Block) error {
	if _, ok := e.blocks[b.UID]; ok {
		return oops.In("editor").Code(CodeDuplicateUID).With("uid", b.UID).Errorf("block %q already exists", b.UID)
	}
	e.blocks[b.UID] = b
	return nil
}

// Update replaces the block with b's UID. A selection on it survives.
func (e *Editor) Update(b block.Block) error {
	if _, ok := e.blocks[b.UID]; !ok {
		return notFound(b.UID)
	}
	e.blocks[b.UID] = b
	return nil
}

// Remove deletes uid and any selection on it.
func (e *Editor) Remove(uid string) (block.Block, bool) {
	b, ok := e.blocks[uid]
	if !ok {
		return block.Block{}, false
	}
	delete(e.blocks, uid)
	delete(e.selections, uid)
	return b, true
}

// CanMutate applies the authority law for updating or destroying uid:
// a selected block may only be changed by its holder, an unselected one by
// its owner or by anyone with edit-all.
func (e *Editor) CanMutate(uid string, actor uint64, editAll bool) error {
	b, ok := e.blocks[uid]
	if !ok {
		return notFound(uid)
	}
	if holder, selected := e.selections[uid]; selected {
		if holder == actor {
			return nil
		}
		return selectedByOther(uid, holder)
	}
	if b.Owner == actor || editAll {
		return nil
	}
	return oops.In("editor").Code(CodeNotOwner).
		With("uid", uid).
		With("owner", b.Owner).
		Errorf("block %q is owned by %d", uid, b.Owner)
}

// Select locks uid for actor. Selecting a block one already holds succeeds
// without change.
func (e *Editor) Select(uid string, actor uint64, editAll bool) error {
	b, ok := e.blocks[uid]
	if !ok {
		return notFound(uid)
	}
	if holder, selected := e.selections[uid]; selected {
		if holder == actor {
			return nil
		}
		return selectedByOther(uid, holder)
	}
	if b.Owner != actor && !editAll {
		return oops.In("editor").Code(CodeNotOwner).
			With("uid", uid).
			With("owner", b.Owner).
			Errorf("block %q is owned by %d", uid, b.Owner)
	}
	e.selections[uid] = actor
	return nil
}

// Deselect releases uid if actor holds it and reports whether it did.
func (e *Editor) Deselect(uid string, actor uint64) bool {
	if holder, ok := e.selections[uid]; ok && holder == actor {
		delete(e.selections, uid)
		return true
	}
	return false
}

// ReleaseAll drops every selection held by actor.
func (e *Editor) ReleaseAll(actor uint64) int {
	n := 0
	for uid, holder := range e.selections {
		if holder == actor {
			delete(e.selections, uid)
			n++
		}
	}
	return n
}

func (e *Editor) SelectionHolder(uid string) (uint64, bool) {
	holder, ok := e.selections[uid]
	return holder, ok
}

func (e *Editor) Selections() int { return len(e.selections) }

func (e *Editor) ClearSelections() {
	clear(e.selections)
}

func (e *Editor) BlocksOwnedBy(id uint64) int {
	n := 0
	for _, b := range e.blocks {
		if b.Owner == id {
			n++
		}
	}
	return n
}

// Owners lists every identifier that owns at least one block, ascending.
func (e *Editor) Owners() []uint64 {
	seen := make(map[uint64]struct{})
	for _, b := range e.blocks {
		seen[b.Owner] = struct{}{}
	}
	out := make([]uint64, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// BlockStrings returns the canonical string of every block, ordered by UID.
func (e *Editor) BlockStrings() []string {
	uids := e.uids()
	out := make([]string, len(uids))
	for i, uid := range uids {
		out[i] = e.blocks[uid].String()
	}
	return out
}

func (e *Editor) uids() []string {
	uids := make([]string, 0, len(e.blocks))
	for uid := range e.blocks {
		uids = append(uids, uid)
	}
	sort.Strings(uids)
	return uids
}

func notFound(uid string) error {
	return oops.In("editor").Code(CodeBlockNotFound).With("uid", uid).Errorf("no block %q", uid)
}

func selectedByOther(uid string, holder uint64) error {
	return oops.In("editor").Code(CodeSelectedByOther).
		With("uid", uid).
		With("holder", holder).
		Errorf("block %q is selected by %d", uid, holder)
}
