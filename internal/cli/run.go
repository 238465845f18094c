package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nexus-run/nexus-core/internal/config"
	"github.com/nexus-run/nexus-core/internal/gateway"
	"github.com/nexus-run/nexus-core/internal/runloop"
)

const shutdownTimeout = 10 * time.Second

func buildRunCmd() *cobra.Command {
	var host string
	var port int
	var webPort int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the agent runtime in the foreground",
		Long: `Run loads configuration, starts the RunLoop and its channel
fabric, and serves the HTTP gateway until interrupted.`,
		Example: `  autohands run
  autohands run --host 0.0.0.0 --port 8080 --web-port 8081`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runForeground(cmd.Context(), host, port, webPort)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "Gateway bind host (overrides config)")
	cmd.Flags().IntVar(&port, "port", 0, "Gateway HTTP port (overrides config)")
	cmd.Flags().IntVar(&webPort, "web-port", 0, "Gateway web UI port (overrides config)")
	return cmd
}

func runForeground(ctx context.Context, host string, port, webPort int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if host != "" {
		cfg.Gateway.Host = host
	}
	if port != 0 {
		cfg.Gateway.Port = port
	}
	if webPort != 0 {
		cfg.Gateway.WebPort = webPort
	}

	handle, err := buildRuntime(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build runtime: %w", err)
	}

	if err := handle.runLoop.Start(ctx, runloop.ModeDefault); err != nil {
		return fmt.Errorf("start run loop: %w", err)
	}

	gw := gateway.New(gateway.Config{
		Host:       cfg.Gateway.Host,
		Port:       cfg.Gateway.Port,
		AuthSecret: os.Getenv("GATEWAY_AUTH_SECRET"),
	}, handle.runLoop, handle.tasks, handle.store, handle.registry, nil)
	if err := gw.Start(ctx); err != nil {
		return fmt.Errorf("start gateway: %w", err)
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = gw.Stop(shutdownCtx)
	_ = handle.runLoop.Stop(shutdownCtx)
	return nil
}
