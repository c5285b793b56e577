package server_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/teamx/teamx-server/internal/block"
	"github.com/teamx/teamx-server/internal/editor"
	"github.com/teamx/teamx-server/internal/packet"
	"github.com/teamx/teamx-server/internal/permission"
	"github.com/teamx/teamx-server/internal/server"
	"github.com/teamx/teamx-server/internal/transport/transporttest"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// harness drives a server one Step at a time over the in-memory transport.
type harness struct {
	host   *transporttest.Host
	srv    *server.Server
	oracle *permission.Oracle
	world  *editor.Editor
	events []server.Event
}

func newHarness(store permission.Store, cfg server.Config, opts ...server.Option) *harness {
	if store == nil {
		store = permission.NewMemStore()
	}
	oracle, err := permission.NewOracle(store, discard)
	if err != nil {
		panic(err)
	}
	if cfg.ServiceTimeout == 0 {
		cfg.ServiceTimeout = time.Millisecond
	}
	if cfg.WelcomeMessage == "" {
		cfg.WelcomeMessage = "Welcome to the server! Please introduce yourself."
	}
	h := &harness{
		host:   transporttest.NewHost(),
		oracle: oracle,
		world:  editor.New(),
	}
	opts = append([]server.Option{server.WithEditor(h.world)}, opts...)
	h.srv = server.New(cfg, h.host, oracle, discard, opts...)
	h.srv.SetEventHook(func(ev server.Event) { h.events = append(h.events, ev) })
	return h
}

func (h *harness) step() {
	h.srv.Step(context.Background())
}

// send delivers p from c and runs the loop until it has been handled.
func (h *harness) send(c *transporttest.Conn, p packet.Packet) {
	h.host.Send(c, p)
	h.step()
}

// join walks a new connection through the handshake and join, and discards
// what the server sent it on the way.
func (h *harness) join(id uint64, name string) *transporttest.Conn {
	c := h.host.Connect()
	h.host.Send(c, &packet.HandshakeResponse{SteamID: id})
	h.host.Send(c, &packet.PlayerJoin{SteamID: id, Name: name})
	h.step()
	c.Packets()
	return c
}

func drain(conns ...*transporttest.Conn) {
	for _, c := range conns {
		c.Packets()
	}
}

func blockString(uid string, owner uint64, typ int32) string {
	return block.New(uid, owner, typ, []float64{1, 2, 3}).String()
}

// tieredStore returns a store seeded with the default tiers plus extra.
func tieredStore(extra map[string]permission.Entry) permission.Store {
	store := permission.NewMemStore()
	for name, e := range permission.DefaultTiers() {
		_ = store.PutTier(name, e)
	}
	for name, e := range extra {
		_ = store.PutTier(name, e)
	}
	return store
}

// fakeSaver records what the server asks of it.
type fakeSaver struct {
	mu        sync.Mutex
	due       bool
	saves     []editor.Snapshot
	retried   []editor.Snapshot
	postponed int
	attempts  int
	err       error
}

func (f *fakeSaver) Due(time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.due
}

func (f *fakeSaver) Postpone(time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.due = false
	f.postponed++
}

func (f *fakeSaver) Save(snap editor.Snapshot) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.err != nil {
		return "", f.err
	}
	f.due = false
	f.saves = append(f.saves, snap)
	return "level_20260314-150926.teamkist", nil
}

func (f *fakeSaver) SaveWithRetry(_ context.Context, snap editor.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retried = append(f.retried, snap)
	return f.err
}

func (f *fakeSaver) counts() (saves, retried, postponed int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saves), len(f.retried), f.postponed
}
