package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/teamx/teamx-server/internal/config"
	"github.com/teamx/teamx-server/internal/control"
	"github.com/teamx/teamx-server/internal/editor"
	"github.com/teamx/teamx-server/internal/errutil"
	"github.com/teamx/teamx-server/internal/logging"
	"github.com/teamx/teamx-server/internal/observability"
	"github.com/teamx/teamx-server/internal/permission"
	"github.com/teamx/teamx-server/internal/save"
	"github.com/teamx/teamx-server/internal/server"
	"github.com/teamx/teamx-server/internal/transport/enet"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the editor server",
		Long: `Run the editor server until interrupted. On SIGINT or SIGTERM every
player is disconnected and the level is saved one last time.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(config.Options{Path: configFile, Flags: cmd.Flags()})
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "", "config file path")
	config.RegisterFlags(cmd.Flags())

	return cmd
}

func runServe(ctx context.Context, cfg config.Config) error {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logger := logging.Setup("teamx", version, cfg.Log.Format, level, os.Stderr)

	store, err := openStore(cfg.Permissions.Path)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			errutil.LogError(logger, "close permission store", err)
		}
	}()
	oracle, err := permission.NewOracle(store, logger)
	if err != nil {
		return err
	}

	saves, err := save.NewManager(save.Config{
		LevelName:        cfg.Save.LevelName,
		BasePath:         cfg.Save.BasePath,
		AutoSaveInterval: cfg.Save.AutoSaveInterval,
		BackupCount:      cfg.Save.BackupCount,
	}, logger)
	if err != nil {
		return err
	}

	world := editor.New()
	loaded := false
	if cfg.Save.LoadBackupOnStart {
		loaded = loadLatest(logger, saves, world)
	}

	var (
		ready   atomic.Bool
		metrics *observability.Metrics
	)
	if cfg.Metrics.Address != "" {
		obs := observability.NewServer(cfg.Metrics.Address, ready.Load, logger)
		errCh, err := obs.Start()
		if err != nil {
			return err
		}
		go func() {
			for err := range errCh {
				errutil.LogError(logger, "metrics server failed", err)
			}
		}()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := obs.Stop(stopCtx); err != nil {
				errutil.LogError(logger, "stop metrics server", err)
			}
		}()
		metrics = obs.Metrics()
		logger.Info("metrics listening", "addr", obs.Addr())
	}

	host, err := enet.Listen(cfg.Server.Address, cfg.Server.Port, cfg.Server.MaxPeers)
	if err != nil {
		errutil.LogError(logger, "cannot bind editor port", err)
		emergencySave(logger, saves, world, loaded)
		return err
	}
	defer host.Close()

	srv := server.New(server.Config{
		ServiceTimeout:    cfg.Server.ServiceTimeout,
		RateLimit:         cfg.Server.RateLimit,
		RateBurst:         cfg.Server.RateBurst,
		WelcomeMessage:    cfg.Server.WelcomeMessage,
		SaveWithNoEditors: cfg.Save.KeepBackupWithNoEditors,
	}, host, oracle, logger,
		server.WithEditor(world),
		server.WithSaver(saves),
		server.WithMetrics(metrics),
	)

	if cfg.Control.Address != "" {
		l, err := net.Listen("tcp", cfg.Control.Address)
		if err != nil {
			return oops.In("control").With("addr", cfg.Control.Address).Wrapf(err, "listen")
		}
		ctl, err := startControl(logger, l, srv)
		if err != nil {
			return err
		}
		defer ctl.Close()
		srv.SetEventHook(func(ev server.Event) { ctl.Publish(control.EventFrom(ev)) })
	}

	logger.Info("editor server listening",
		"address", cfg.Server.Address,
		"port", cfg.Server.Port,
		"level", cfg.Save.LevelName)
	ready.Store(true)
	err = srv.Run(ctx)
	ready.Store(false)
	logger.Info("editor server stopped")
	return err
}

func openStore(path string) (permission.Store, error) {
	if path == "" {
		return permission.NewMemStore(), nil
	}
	s, err := permission.OpenBoltStore(path)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// loadLatest restores the newest backup into world and reports whether it
// did. A backup that cannot be read is logged and the server starts empty.
func loadLatest(logger *slog.Logger, saves *save.Manager, world *editor.Editor) bool {
	snap, path, ok, err := saves.LoadLatest()
	if err != nil {
		errutil.LogError(logger, "cannot load backup, starting with an empty level", err)
		return false
	}
	if !ok {
		logger.Info("no backup found, starting with an empty level")
		return false
	}
	skipped := world.ImportSnapshot(snap)
	for _, uid := range skipped {
		logger.Warn("backup repeats a block uid, keeping the first", "uid", uid)
	}
	logger.Info("backup loaded", "path", path, "blocks", world.Len())
	return true
}

// emergencySave writes the level when the server cannot start. An empty level
// that was never loaded is not written, so it cannot push a real backup out
// of retention.
func emergencySave(logger *slog.Logger, saves *save.Manager, world *editor.Editor, loaded bool) {
	if !loaded && world.Len() == 0 {
		logger.Warn("nothing was loaded, skipping emergency save")
		return
	}
	if _, err := saves.Save(world.ExportSnapshot()); err != nil {
		errutil.LogError(logger, "emergency save failed", err)
	}
}

// startControl serves the admin service on l in the background.
func startControl(logger *slog.Logger, l net.Listener, backend control.Backend) (*control.Server, error) {
	ctl := control.NewServer(logger)
	if err := ctl.RegisterService("Admin", control.NewAdminService(ctl, backend, logger)); err != nil {
		l.Close()
		return nil, oops.In("control").Wrapf(err, "register admin service")
	}
	go func() {
		if err := ctl.Serve(l); err != nil {
			errutil.LogError(logger, "control server stopped", err)
		}
	}()
	logger.Info("control listening", "addr", l.Addr().String())
	return ctl, nil
}
