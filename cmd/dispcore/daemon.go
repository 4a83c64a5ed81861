package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/1broseidon/dispcore/internal/allocator"
	"github.com/1broseidon/dispcore/internal/color"
	"github.com/1broseidon/dispcore/internal/config"
	"github.com/1broseidon/dispcore/internal/core"
	"github.com/1broseidon/dispcore/internal/daemon"
	"github.com/1broseidon/dispcore/internal/extension"
	"github.com/1broseidon/dispcore/internal/ipc"
	"github.com/1broseidon/dispcore/internal/logger"
	"github.com/1broseidon/dispcore/internal/metrics"
	"github.com/1broseidon/dispcore/internal/runtimepath"
)

func newDaemonCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Start the display core daemon (foreground)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := flags.loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			cfg := res.Config
			if flags.socketPath != "" {
				cfg.Daemon.Socket = flags.socketPath
			}

			log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			log.Info("configuration loaded", zap.Strings("files", res.Files))

			return runDaemon(logger.ContextWithLogger(cmd.Context(), log), cfg)
		},
	}
}

// runDaemon brings the core up, serves clients until ctx is done and tears
// everything down in reverse order. It logs through the logger carried by ctx.
func runDaemon(ctx context.Context, cfg *config.Config) error {
	log := logger.FromContext(ctx)
	hwFactory, err := cfg.Hardware.Factory()
	if err != nil {
		return err
	}

	var serverOpts []ipc.ServerOption
	serverOpts = append(serverOpts, ipc.WithLogger(log.Named("ipc")))
	if cfg.Daemon.Socket != "" {
		serverOpts = append(serverOpts, ipc.WithSocketPath(cfg.Daemon.Socket))
	}
	server, err := ipc.NewServer(serverOpts...)
	if err != nil {
		return err
	}

	recorder := metrics.New()
	opts := []core.Option{
		core.WithLogger(log.Named("core")),
		core.WithHWInfoFactory(hwFactory),
		core.WithColorManager(color.NewManager()),
		core.WithMetrics(recorder),
	}
	if cfg.Extension.Enabled {
		dirs := append([]string(nil), cfg.Extension.SearchDirs...)
		if dir, err := runtimepath.PluginDir(); err == nil {
			dirs = append(dirs, dir)
		}
		loader := extension.NewLoader(extension.DefaultOpener(dirs))
		opts = append(opts, core.WithExtensionLoader(loader, cfg.Extension.Name))
	}

	alloc := allocator.NewHeapAllocator(cfg.Allocator.LimitBytes)
	c := core.New(alloc, server, opts...)
	if err := c.Init(); err != nil {
		return fmt.Errorf("failed to initialize display core: %w", err)
	}
	defer func() {
		if err := c.Deinit(); err != nil {
			log.Warn("display core deinit failed", zap.Error(err))
		}
	}()

	if mode := cfg.BandwidthMode(); mode != c.BandwidthMode() {
		if err := c.SetMaxBandwidthMode(mode); err != nil {
			log.Warn("failed to apply configured bandwidth mode", zap.Stringer("mode", mode), zap.Error(err))
		}
	}

	server.Attach(c)
	if err := server.Start(); err != nil {
		return err
	}
	defer server.Stop()

	if cfg.Metrics.Listen != "" {
		ln, err := net.Listen("tcp", cfg.Metrics.Listen)
		if err != nil {
			return fmt.Errorf("failed to listen for metrics on %s: %w", cfg.Metrics.Listen, err)
		}
		srv := serveMetrics(ln, recorder, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if cfg.Daemon.RefreshInterval > 0 {
		reconciler := daemon.NewReconciler(daemon.ReconcilerConfig{
			Interval: cfg.Daemon.RefreshInterval,
			Logger:   log.Named("reconciler"),
			Events:   server,
		}, c, c.Snapshot().Displays)
		go reconciler.Run(ctx)
	}

	log.Info("dispcore daemon started", zap.String("socket", server.SocketPath()))
	<-ctx.Done()
	log.Info("shutting down dispcore daemon")
	return nil
}

// serveMetrics serves /metrics on ln until the returned server is shut down.
func serveMetrics(ln net.Listener, recorder *metrics.Recorder, log *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", recorder.Handler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", zap.Error(err))
		}
	}()
	log.Info("metrics endpoint listening", zap.String("addr", ln.Addr().String()))
	return srv
}
