package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	sddaemon "github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/modoterra/hearth/internal/buildinfo"
	"github.com/modoterra/hearth/internal/logging"
	"github.com/modoterra/hearth/pkg/config"
	"github.com/modoterra/hearth/pkg/daemon"
	"github.com/modoterra/hearth/pkg/providers/docker"
	"github.com/modoterra/hearth/pkg/providers/systemd"
	"github.com/modoterra/hearth/pkg/transport/ws"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "hearthd",
	Short:        "Home server side of hearth: event and log feeds over a unix socket",
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default "+config.DefaultDaemonPath()+")")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(checkCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), buildinfo.String("hearthd"))
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the config and list the log sources it defines",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, sources, err := loadConfig()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "socket: %s\ndb: %s (retention %s)\n", cfg.Socket, cfg.DB, cfg.Retention.D())
		if cfg.HTTP.Addr != "" {
			fmt.Fprintf(out, "websocket: %s\n", cfg.HTTP.Addr)
		}
		fmt.Fprintf(out, "%d source(s)\n", len(sources))
		for _, s := range sources {
			fmt.Fprintf(out, "  %-8s %-20s %s\n", s.Kind, s.Name(), describeSource(s))
		}
		return nil
	},
}

func loadConfig() (config.Daemon, []config.Source, error) {
	path := configPath
	if path == "" {
		path = config.DefaultDaemonPath()
	}
	cfg, err := config.LoadDaemon(path)
	if err != nil {
		return cfg, nil, err
	}
	sources, err := docker.ExpandSources(cfg.Sources)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, sources, nil
}

func run(_ *cobra.Command, _ []string) error {
	cfg, sources, err := loadConfig()
	if err != nil {
		return err
	}
	logger := logging.New(os.Stderr, cfg.LogLevel)
	slog.SetDefault(logger)

	if err := os.MkdirAll(filepath.Dir(cfg.DB), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	store, err := daemon.OpenLogStore(cfg.DB)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	d := daemon.New(store, daemon.Options{
		SocketPath: cfg.Socket,
		Heartbeat:  cfg.Heartbeat.D(),
		Version:    buildinfo.Version,
		Logger:     logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		d.Shutdown()
		return nil
	})
	g.Go(func() error {
		daemon.NewRetentionLoop(store, cfg.Retention.D(), 0, logger).Run(gctx)
		return nil
	})

	for _, lines := range startSources(gctx, sources, logger) {
		g.Go(func() error {
			d.Pump(gctx, lines)
			return nil
		})
	}
	go systemd.CheckUnits(gctx, journalUnits(sources), logger)

	if cfg.HTTP.Addr != "" {
		srv := &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           ws.NewServer(d, ws.Config{}, logger).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			logger.Info("websocket listening", "addr", cfg.HTTP.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("websocket listener: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		notifySystemd(gctx, cfg.Socket, logger)
		return nil
	})

	logger.Info("starting hearthd", "version", buildinfo.Version, "sources", len(sources))
	return g.Wait()
}

// notifySystemd reports readiness once the socket exists, pets the watchdog
// when one is configured, and reports stopping on shutdown. Outside systemd
// it returns immediately.
func notifySystemd(ctx context.Context, socket string, logger *slog.Logger) {
	for i := 0; i < 50; i++ {
		if _, err := os.Stat(socket); err == nil {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}

	sent, err := sddaemon.SdNotify(false, sddaemon.SdNotifyReady)
	if err != nil {
		logger.Warn("sd_notify failed", "err", err)
		return
	}
	if !sent {
		logger.Debug("not running under systemd notify")
		return
	}

	var tick <-chan time.Time
	if interval, err := sddaemon.SdWatchdogEnabled(false); err == nil && interval > 0 {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		tick = t.C
		logger.Debug("systemd watchdog enabled", "interval", interval)
	}

	for {
		select {
		case <-ctx.Done():
			sddaemon.SdNotify(false, sddaemon.SdNotifyStopping)
			return
		case <-tick:
			sddaemon.SdNotify(false, sddaemon.SdNotifyWatchdog)
		}
	}
}
