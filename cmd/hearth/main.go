package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/modoterra/hearth/internal/buildinfo"
	"github.com/modoterra/hearth/internal/logging"
	"github.com/modoterra/hearth/pkg/config"
	"github.com/modoterra/hearth/pkg/daemon/service"
	"github.com/modoterra/hearth/pkg/stream"
	"github.com/modoterra/hearth/pkg/transport/uds"
	"github.com/modoterra/hearth/pkg/transport/ws"
	tuimodel "github.com/modoterra/hearth/pkg/tui/model"
)

var (
	configPath string
	socketPath string
	baseURL    string
	logFile    string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "hearth",
	Short: "Live event and log dashboard for your home server",
	Long: "hearth follows the event and log feeds of a hearthd daemon, reconnecting " +
		"forever, and shows them in a terminal dashboard.",
	SilenceUsage: true,
	RunE:         runTUI,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default "+config.DefaultClientPath()+")")
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "", "daemon socket path")
	rootCmd.PersistentFlags().StringVar(&baseURL, "url", "", "websocket base URL, e.g. ws://nas:7420 (overrides --socket)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "write client logs to this file")

	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(notifyCmd)
	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serviceCmd)
}

// --- Shared setup ---

func loadConfig() (config.Client, error) {
	path := configPath
	if path == "" {
		path = config.DefaultClientPath()
	}
	cfg, err := config.LoadClient(path)
	if err != nil {
		return cfg, err
	}
	if socketPath != "" {
		cfg.Socket = socketPath
	}
	if baseURL != "" {
		cfg.URL = baseURL
	}
	return cfg, nil
}

// endpoints picks the transport: websocket when a URL is configured, the
// local socket otherwise. Every log stream asks for the since window so a
// reconnect replays what was missed; the accumulator drops the overlap.
func endpoints(cfg config.Client) (stream.Opener, stream.HistoryQuery) {
	if cfg.URL != "" {
		o := ws.NewOpener(cfg.URL)
		o.SinceSeconds = cfg.Logs.SinceSeconds
		return o, ws.NewHistoryClient(cfg.URL)
	}
	o := uds.NewOpener(cfg.Socket)
	o.SinceSeconds = cfg.Logs.SinceSeconds
	return o, uds.NewHistoryClient(cfg.Socket)
}

func newHub(cfg config.Client, logger *slog.Logger) *stream.Hub {
	opener, history := endpoints(cfg)
	return stream.NewHub(opener, history, stream.Options{
		Delay:        stream.JitteredDelay(cfg.Reconnect.Delay.D(), cfg.Reconnect.Jitter.D()),
		Logger:       logger,
		SinceSeconds: cfg.Logs.SinceSeconds,
		Accumulator: stream.AccumulatorOptions{
			InitialPage: cfg.Logs.PageSize,
			Capacity:    cfg.Logs.Capacity,
		},
	})
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// cliLogger logs to --log-file, or to stderr at warn level.
func cliLogger(cfg config.Client) (*slog.Logger, io.Closer, error) {
	if logFile != "" {
		return logging.OpenFile(logFile, cfg.LogLevel)
	}
	return logging.New(os.Stderr, "warn"), io.NopCloser(nil), nil
}

// --- Root: TUI ---

func runTUI(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// The dashboard owns the terminal: never log to it.
	logger, closer, err := logging.OpenFile(logFile, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, cancel := signalContext()
	defer cancel()

	hub := newHub(cfg, logger)
	hub.Start(ctx)
	defer hub.Stop()

	app, err := tuimodel.New(hub)
	if err != nil {
		return err
	}
	defer app.Close()

	p := tea.NewProgram(app, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err = p.Run()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// --- Ping ---

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check if the daemon is running",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		pong, err := uds.NewHistoryClient(cfg.Socket).Ping(ctx)
		if err != nil {
			return fmt.Errorf("cannot reach daemon at %s: %w", cfg.Socket, err)
		}
		if pong.Pong {
			fmt.Fprintf(cmd.OutOrStdout(), "pong ✓ hearthd %s\n", pong.Version)
		}
		return nil
	},
}

// --- Version ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), buildinfo.String("hearth"))
	},
}

// --- Service ---

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Manage the hearthd systemd user service",
}

var serviceConfig string

var serviceInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install and start hearthd as a systemd user service",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := service.Install(cmd.Context(), serviceConfig); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "hearthd service installed ✓")
		return nil
	},
}

var serviceUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Stop and remove the hearthd user service",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := service.Uninstall(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "hearthd service removed ✓")
		return nil
	},
}

var serviceStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show socket and service state",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), service.Status(cmd.Context(), cfg.Socket))
		return nil
	},
}

func init() {
	serviceInstallCmd.Flags().StringVar(&serviceConfig, "daemon-config", "", "hearthd config file passed to the unit")
	serviceCmd.AddCommand(serviceInstallCmd)
	serviceCmd.AddCommand(serviceUninstallCmd)
	serviceCmd.AddCommand(serviceStatusCmd)
}
