package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/actiongate/internal/pkg/config"
	"github.com/tjfontaine/actiongate/internal/runtime"
)

// ServeCmd starts the gateway and serves until interrupted.
var ServeCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"server"},
	Short:   "Start the gateway",
	Long:    `Load the configuration, build the configured actions and serve them. The configuration file is watched and the actions are rebuilt when it changes.`,
	RunE:    runServe,
}

var (
	serveDBPath          string
	serveShutdownTimeout time.Duration
)

func init() {
	ServeCmd.Flags().StringVar(&serveDBPath, "db-path", "", "Store reports in this SQLite database (overrides storage config)")
	ServeCmd.Flags().DurationVar(&serveShutdownTimeout, "shutdown-timeout", 30*time.Second, "How long to wait for in-flight requests on shutdown")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging, os.Stdout)
	slog.SetDefault(logger)

	path := configPath
	if !cmd.Flags().Changed("config") {
		if _, err := os.Stat(path); err != nil {
			// Nothing to watch; serve the defaults.
			return serveStatic(cmd.Context(), cfg, logger)
		}
	}

	opts := []runtime.Option{
		runtime.WithLogger(logger),
		runtime.WithFileConfig(path),
	}
	if serveDBPath != "" {
		opts = append(opts, runtime.WithSQLite(serveDBPath))
	}
	gw, err := runtime.New(opts...)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}
	return run(cmd.Context(), gw, logger)
}

func serveStatic(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	opts := []runtime.Option{
		runtime.WithLogger(logger),
		runtime.WithConfigProvider(staticProvider{cfg: cfg}),
	}
	if serveDBPath != "" {
		opts = append(opts, runtime.WithSQLite(serveDBPath))
	}
	gw, err := runtime.New(opts...)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}
	return run(ctx, gw, logger)
}

func run(ctx context.Context, gw *runtime.Gateway, logger *slog.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := gw.Start(ctx); err != nil {
		return fmt.Errorf("start gateway: %w", err)
	}

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping gateway")
	case serveErr = <-gw.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), serveShutdownTimeout)
	defer cancel()
	if err := gw.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return serveErr
}

// staticProvider serves a configuration that never changes.
type staticProvider struct {
	cfg *config.Config
}

func (p staticProvider) Load(context.Context) (*config.Config, error) { return p.cfg, nil }

func (p staticProvider) Watch(context.Context, func(*config.Config)) error { return nil }

func (p staticProvider) Close() error { return nil }
