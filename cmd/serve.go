package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hxqlab/agentrelay/internal/attachments"
	"github.com/hxqlab/agentrelay/internal/config"
	"github.com/hxqlab/agentrelay/internal/dedup"
	"github.com/hxqlab/agentrelay/internal/gateway"
	"github.com/hxqlab/agentrelay/internal/janitor"
	"github.com/hxqlab/agentrelay/internal/prefs"
	"github.com/hxqlab/agentrelay/internal/registry"
	"github.com/hxqlab/agentrelay/internal/relay"
	"github.com/hxqlab/agentrelay/internal/routing"
	"github.com/hxqlab/agentrelay/internal/session"
	"github.com/hxqlab/agentrelay/internal/store"
	filestore "github.com/hxqlab/agentrelay/internal/store/file"
	sqlitestore "github.com/hxqlab/agentrelay/internal/store/sqlite"
	"github.com/hxqlab/agentrelay/pkg/protocol"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func runServe() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	slog.Info("starting", "version", Version, "config", configPath)

	reg, err := registry.New(cfg.Agents)
	if err != nil {
		return err
	}
	policies := registry.NewPolicyTable(cfg.Groups, cfg.CommandTip)

	backend, err := openBackend(cfg.Storage)
	if err != nil {
		return err
	}
	defer backend.Close()

	prefStore := prefs.NewStore()
	if blob, err := backend.LoadPreferences(); err != nil {
		slog.Warn("prefs.load_failed", "err", err)
	} else if err := prefStore.Restore(blob); err != nil {
		slog.Warn("prefs.restore_failed", "err", err)
	}

	engine := routing.NewEngine(reg, policies, prefStore,
		cfg.DefaultAgent, cfg.SwitchSuffix, cfg.RememberPreference)

	sessions := session.NewManager(backend)
	window := dedup.NewWindow(dedup.DefaultTTL)
	cache := attachments.NewCache()

	srv := gateway.NewServer(cfg.Gateway)
	sessions.ResetNotifier = func(convKey string) {
		srv.Send(protocol.OutboundReply{
			To:   convKey,
			Kind: protocol.ReplyNotice,
			Text: "检测到会话异常，已为您开启新的会话。",
		})
	}

	dispatcher := relay.NewDispatcher(cfg, reg, policies, engine, sessions, window, cache, srv)
	srv.SetDispatcher(dispatcher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jan := janitor.New(cfg.Janitor.Schedule, window, cache, prefStore, backend)
	go jan.Run(ctx)

	go func() {
		if err := config.Watch(ctx, configPath); err != nil {
			slog.Warn("config.watch_failed", "err", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("gateway: %w", err)
		}
		return nil
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("shutdown.gateway", "err", err)
	}

	// Persist preferences one last time before exit.
	if blob, err := prefStore.Snapshot(); err == nil {
		if err := backend.SavePreferences(blob); err != nil {
			slog.Warn("shutdown.snapshot", "err", err)
		}
	}
	slog.Info("stopped")
	return nil
}

func openBackend(cfg config.StorageConfig) (store.Backend, error) {
	switch cfg.Backend {
	case "sqlite":
		path := cfg.SQLitePath
		if path == "" {
			path = "~/.agentrelay/state/agentrelay.db"
		}
		return sqlitestore.New(config.ExpandHome(path))
	default:
		return filestore.New(config.ExpandHome(cfg.Dir))
	}
}
