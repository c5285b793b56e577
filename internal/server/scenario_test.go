package server_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/teamx/teamx-server/internal/block"
	"github.com/teamx/teamx-server/internal/packet"
	"github.com/teamx/teamx-server/internal/permission"
	"github.com/teamx/teamx-server/internal/server"
	"github.com/teamx/teamx-server/internal/transport/transporttest"
)

func TestScenarios(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Editor Scenarios Suite")
}

const (
	aliceID uint64 = 76561198000000001
	bobID   uint64 = 76561198000000002
)

var _ = Describe("Collaborative editing", func() {
	var (
		h     *harness
		alice *transporttest.Conn
		bob   *transporttest.Conn
	)

	BeforeEach(func() {
		h = newHarness(nil, server.Config{})
		alice = h.join(aliceID, "Alice")
		bob = h.join(bobID, "Bob")
		drain(alice)
	})

	Describe("creating a block", func() {
		It("adds the block and tells everyone else", func() {
			bs := blockString("crate", aliceID, 12)
			h.send(alice, &packet.EditorBlockCreate{SteamID: aliceID, BlockString: bs})

			Expect(alice.Packets()).To(BeEmpty())
			Expect(bob.Packets()).To(ConsistOf(&packet.EditorBlockCreate{SteamID: aliceID, BlockString: bs}))

			got, ok := h.world.Block("crate")
			Expect(ok).To(BeTrue())
			Expect(got.Owner).To(Equal(aliceID))
			Expect(got.Type).To(Equal(int32(12)))
		})

		It("shows the block to players who join later", func() {
			bs := blockString("crate", aliceID, 12)
			h.send(alice, &packet.EditorBlockCreate{SteamID: aliceID, BlockString: bs})

			carol := h.join(3, "Carol")
			h.send(carol, &packet.EditorStateRequest{SteamID: 3})
			Expect(carol.Packets()).To(ConsistOf(&packet.EditorStateResponse{
				Floor:  90,
				Skybox: 0,
				Blocks: []string{bs},
			}))
		})
	})

	Describe("contested update", func() {
		var original string

		BeforeEach(func() {
			original = blockString("ramp", aliceID, 3)
			h.send(alice, &packet.EditorBlockCreate{SteamID: aliceID, BlockString: original})
			drain(alice, bob)
		})

		It("refuses the non-owner and echoes the current block", func() {
			h.send(bob, &packet.EditorBlockUpdate{SteamID: bobID, BlockString: blockString("ramp", bobID, 3)})

			Expect(bob.Packets()).To(ConsistOf(&packet.EditorBlockUpdateDenied{BlockString: original}))
			Expect(alice.Packets()).To(BeEmpty())
			Expect(h.world.BlockString("ramp")).To(Equal(original))
		})

		It("accepts the owner's update", func() {
			moved := block.New("ramp", aliceID, 3, []float64{10, 0, 0}).String()
			h.send(alice, &packet.EditorBlockUpdate{SteamID: aliceID, BlockString: moved})

			Expect(alice.Packets()).To(BeEmpty())
			Expect(bob.Packets()).To(ConsistOf(&packet.EditorBlockUpdate{SteamID: aliceID, BlockString: moved}))
			Expect(h.world.BlockString("ramp")).To(Equal(moved))
		})
	})

	Describe("selection hand-off", func() {
		BeforeEach(func() {
			Expect(h.oracle.SetLevel(bobID, permission.TierModerator)).To(Succeed())
			h.send(alice, &packet.EditorBlockCreate{SteamID: aliceID, BlockString: blockString("door", aliceID, 8)})
			drain(alice, bob)
		})

		It("passes the lock only after it is released", func() {
			h.send(alice, &packet.EditorSelection{SteamID: aliceID, UID: "door"})
			Expect(alice.Packets()).To(BeEmpty())

			h.send(bob, &packet.EditorSelection{SteamID: bobID, UID: "door"})
			Expect(bob.Packets()).To(ConsistOf(&packet.EditorSelectionDenied{UID: "door"}))

			h.send(bob, &packet.EditorBlockDestroy{SteamID: bobID, UID: "door"})
			Expect(bob.Packets()).To(ConsistOf(&packet.EditorBlockDestroyDenied{BlockString: h.world.BlockString("door")}))

			h.send(alice, &packet.EditorDeselection{SteamID: aliceID, UID: "door"})
			h.send(bob, &packet.EditorSelection{SteamID: bobID, UID: "door"})
			Expect(bob.Packets()).To(BeEmpty())

			holder, ok := h.world.SelectionHolder("door")
			Expect(ok).To(BeTrue())
			Expect(holder).To(Equal(bobID))

			h.send(bob, &packet.EditorBlockDestroy{SteamID: bobID, UID: "door"})
			Expect(bob.Packets()).To(BeEmpty())
			Expect(alice.Packets()).To(ConsistOf(&packet.EditorBlockDestroy{SteamID: bobID, UID: "door"}))
			Expect(h.world.Len()).To(BeZero())
		})
	})

	Describe("departure", func() {
		It("releases every selection the player held", func() {
			for _, uid := range []string{"a", "b", "c"} {
				h.send(alice, &packet.EditorBlockCreate{SteamID: aliceID, BlockString: blockString(uid, aliceID, 1)})
				h.send(alice, &packet.EditorSelection{SteamID: aliceID, UID: uid})
			}
			Expect(h.world.Selections()).To(Equal(3))
			drain(bob)

			h.host.Disconnect(alice)
			h.step()

			Expect(h.world.Selections()).To(BeZero())
			Expect(h.world.Len()).To(Equal(3), "blocks outlive their owner's session")
			Expect(bob.Packets()).To(ConsistOf(&packet.PlayerLeft{SteamID: aliceID}))
		})
	})

	Describe("default permissions", func() {
		It("registers unknown players with the default tier", func() {
			carol := h.join(3, "Carol")
			h.send(carol, &packet.ServerRulesRequest{SteamID: 3})

			Expect(carol.Packets()).To(ConsistOf(&packet.ServerRulesResponse{
				CanJoin:      true,
				CanCreate:    true,
				CanEdit:      true,
				CanDestroy:   true,
				BlockLimit:   200,
				BannedBlocks: []int32{},
			}))

			p, ok := h.oracle.Player(3)
			Expect(ok).To(BeTrue())
			Expect(p.PermissionLevel).To(Equal(permission.TierDefault))
			Expect(p.Name).To(Equal("Player_3"))
		})

		It("keeps default players off the floor and skybox", func() {
			h.send(alice, &packet.EditorFloor{SteamID: aliceID, Floor: 12})
			Expect(alice.Packets()).To(ConsistOf(&packet.EditorFloorDenied{Floor: 90}))
			Expect(bob.Packets()).To(BeEmpty())
		})
	})
})
