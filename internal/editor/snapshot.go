package editor

import "github.com/teamx/teamx-server/internal/block"

// Snapshot is a detached copy of the world. Its JSON form is the .teamkist
// save format.
type Snapshot struct {
	Floor  int32
	Skybox int32
	Blocks []block.Block
}

// ExportSnapshot copies the world. Blocks are ordered by UID.
func (e *Editor) ExportSnapshot() Snapshot {
	uids := e.uids()
	s := Snapshot{
		Floor:  e.floor,
		Skybox: e.skybox,
		Blocks: make([]block.Block, len(uids)),
	}
	for i, uid := range uids {
		s.Blocks[i] = e.blocks[uid].Clone()
	}
	return s
}

// ImportSnapshot replaces the whole world with s and clears every selection.
// Blocks repeating an earlier UID in s are skipped and returned.
func (e *Editor) ImportSnapshot(s Snapshot) (skipped []string) {
	blocks := make(map[string]block.Block, len(s.Blocks))
	for _, b := range s.Blocks {
		if _, dup := blocks[b.UID]; dup {
			skipped = append(skipped, b.UID)
			continue
		}
		blocks[b.UID] = b.Clone()
	}
	e.floor = s.Floor
	e.skybox = s.Skybox
	e.blocks = blocks
	e.selections = make(map[string]uint64)
	return skipped
}
