// Package server runs the authoritative editor loop.
//
// One goroutine owns the world, the joined sessions and the permission oracle.
// It pulls transport events, decodes them and routes each packet to its
// handler. Everything else reaches that state through Do.
package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"golang.org/x/time/rate"

	"github.com/teamx/teamx-server/internal/editor"
	"github.com/teamx/teamx-server/internal/errutil"
	"github.com/teamx/teamx-server/internal/observability"
	"github.com/teamx/teamx-server/internal/packet"
	"github.com/teamx/teamx-server/internal/permission"
	"github.com/teamx/teamx-server/internal/session"
	"github.com/teamx/teamx-server/internal/transport"
)

const CodeStopped = "SERVER_STOPPED"

var tracer = otel.Tracer("github.com/teamx/teamx-server/internal/server")

// Saver persists world snapshots. *save.Manager implements it.
type Saver interface {
	Due(now time.Time) bool
	Postpone(now time.Time)
	Save(snap editor.Snapshot) (string, error)
	SaveWithRetry(ctx context.Context, snap editor.Snapshot) error
}

type Config struct {
	// ServiceTimeout bounds each wait on the transport.
	ServiceTimeout time.Duration
	// RateLimit is the per-connection packet rate. 0 disables limiting.
	RateLimit float64
	RateBurst int
	// WelcomeMessage is sent in the handshake request.
	WelcomeMessage string
	// SaveWithNoEditors keeps autosaving while nobody is joined.
	SaveWithNoEditors bool
	// ShutdownSaveTimeout bounds the final save after Run's context ends.
	ShutdownSaveTimeout time.Duration
}

type phase int

const (
	phaseConnected phase = iota
	phaseAuthenticating
	phaseJoined
	phaseDisconnected
)

func (p phase) String() string {
	switch p {
	case phaseConnected:
		return "connected"
	case phaseAuthenticating:
		return "authenticating"
	case phaseJoined:
		return "joined"
	case phaseDisconnected:
		return "disconnected"
	}
	return "unknown"
}

type connState struct {
	conn    transport.Conn
	phase   phase
	logger  *slog.Logger
	limiter *rate.Limiter

	// identity is the accepted handshake or join identity, valid when
	// identified is set.
	identity   uint64
	identified bool
}

type result struct {
	val any
	err error
}

type task struct {
	ctx  context.Context
	fn   func() (any, error)
	done chan result
}

type Server struct {
	cfg      Config
	host     transport.Host
	registry *packet.Registry
	editor   *editor.Editor
	sessions *session.Registry
	oracle   *permission.Oracle
	saver    Saver
	metrics  *observability.Metrics
	logger   *slog.Logger
	now      func() time.Time

	conns   map[ulid.ULID]*connState
	tasks   chan task
	stopped chan struct{}
	onEvent func(Event)
}

type Option func(*Server)

// WithEditor starts the server on an existing world, e.g. one loaded from a
// save.
func WithEditor(e *editor.Editor) Option {
	return func(s *Server) { s.editor = e }
}

func WithSaver(saver Saver) Option {
	return func(s *Server) { s.saver = saver }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

func New(cfg Config, host transport.Host, oracle *permission.Oracle, logger *slog.Logger, opts ...Option) *Server {
	if cfg.ServiceTimeout <= 0 {
		cfg.ServiceTimeout = 10 * time.Millisecond
	}
	if cfg.ShutdownSaveTimeout <= 0 {
		cfg.ShutdownSaveTimeout = 10 * time.Second
	}
	s := &Server{
		cfg:      cfg,
		host:     host,
		oracle:   oracle,
		logger:   logger,
		now:      time.Now,
		conns:    make(map[ulid.ULID]*connState),
		tasks:    make(chan task, 16),
		stopped:  make(chan struct{}),
		sessions: session.NewRegistry(logger),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.editor == nil {
		s.editor = editor.New()
	}
	s.registry = packet.NewRegistry()
	for _, c := range packet.Collisions() {
		logger.Warn("packet identifier collision, later registration wins",
			"id", c[0].ID(), "replaced", c[0].Name(), "kind", c[1].Name())
	}
	s.gaugeBlocks()
	return s
}

// SetEventHook installs fn to observe accepted joins, leaves and edits. fn
// runs on the loop goroutine and must not block. Call it before Run.
func (s *Server) SetEventHook(fn func(Event)) {
	s.onEvent = fn
}

// Run services the transport until ctx is cancelled, then disconnects every
// peer and saves the world one last time.
func (s *Server) Run(ctx context.Context) error {
	defer close(s.stopped)
	s.logger.Info("server loop started", "blocks", s.editor.Len())
	for ctx.Err() == nil {
		s.Step(ctx)
	}
	s.shutdown()
	return nil
}

// Step performs one loop iteration: wait for an event, drain the ones
// already queued, run control tasks and check the autosave.
func (s *Server) Step(ctx context.Context) {
	ev := s.host.Service(s.cfg.ServiceTimeout)
	for ev.Type != transport.EventNone {
		s.handleEvent(ctx, ev)
		ev = s.host.Service(0)
	}
	s.runTasks()
	s.autosave()
}

// Do runs fn on the loop goroutine and returns its error. It fails with
// SERVER_STOPPED once Run has returned. A task whose ctx ends before the loop
// reaches it is never run.
func (s *Server) Do(ctx context.Context, fn func() error) error {
	_, err := call(ctx, s, func() (struct{}, error) { return struct{}{}, fn() })
	return err
}

// call is Do for tasks that produce a value. The value travels back over the
// task's channel so nothing is shared with the loop once call returns.
func call[T any](ctx context.Context, s *Server, fn func() (T, error)) (T, error) {
	var zero T
	t := task{
		ctx:  ctx,
		fn:   func() (any, error) { return fn() },
		done: make(chan result, 1),
	}
	select {
	case s.tasks <- t:
	case <-s.stopped:
		return zero, oops.In("server").Code(CodeStopped).Errorf("server stopped")
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	select {
	case r := <-t.done:
		if r.err != nil {
			return zero, r.err
		}
		v, _ := r.val.(T)
		return v, nil
	case <-s.stopped:
		return zero, oops.In("server").Code(CodeStopped).Errorf("server stopped")
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (s *Server) runTasks() {
	for {
		select {
		case t := <-s.tasks:
			if err := t.ctx.Err(); err != nil {
				s.logger.Debug("control task abandoned by caller", "error", err)
				t.done <- result{err: err}
				continue
			}
			val, err := s.runTask(t.fn)
			t.done <- result{val: val, err: err}
		default:
			return
		}
	}
}

func (s *Server) runTask(fn func() (any, error)) (val any, err error) {
	defer func() {
		if r := recover(); r != nil {
			val, err = nil, oops.In("server").Errorf("control task panicked: %v", r)
		}
	}()
	return fn()
}

func (s *Server) autosave() {
	if s.saver == nil {
		return
	}
	now := s.now()
	if !s.saver.Due(now) {
		return
	}
	if s.sessions.Len() == 0 && !s.cfg.SaveWithNoEditors {
		s.saver.Postpone(now)
		s.logger.Debug("autosave skipped, no editors online")
		return
	}
	if _, err := s.save(); err != nil {
		// wait a full interval before trying again
		s.saver.Postpone(now)
	}
}

func (s *Server) save() (string, error) {
	path, err := s.saver.Save(s.editor.ExportSnapshot())
	if err != nil {
		errutil.LogError(s.logger, "save failed", err)
		s.countSave("error")
		return "", err
	}
	s.logger.Debug("save finished", "path", path)
	s.countSave("ok")
	return path, nil
}

func (s *Server) shutdown() {
	for id, cs := range s.conns {
		cs.conn.Close()
		delete(s.conns, id)
	}
	for _, p := range s.sessions.Players() {
		s.sessions.Unregister(p.Conn)
	}
	s.editor.ClearSelections()
	s.gaugePlayers()
	if s.saver == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownSaveTimeout)
	defer cancel()
	if err := s.saver.SaveWithRetry(ctx, s.editor.ExportSnapshot()); err != nil {
		errutil.LogError(s.logger, "final save failed", err)
		s.countSave("error")
		return
	}
	s.countSave("ok")
	s.logger.Info("final save written", "blocks", s.editor.Len())
}

func (s *Server) emit(ev Event) {
	if s.onEvent == nil {
		return
	}
	ev.Time = s.now()
	s.onEvent(ev)
}

func (s *Server) countSave(status string) {
	if s.metrics != nil {
		s.metrics.Saves.WithLabelValues(status).Inc()
	}
}

func (s *Server) countDrop(reason string) {
	if s.metrics != nil {
		s.metrics.PacketsDropped.WithLabelValues(reason).Inc()
	}
}

func (s *Server) gaugePlayers() {
	if s.metrics != nil {
		s.metrics.PlayersConnected.Set(float64(s.sessions.Len()))
	}
}

func (s *Server) gaugeBlocks() {
	if s.metrics != nil {
		s.metrics.Blocks.Set(float64(s.editor.Len()))
	}
}
