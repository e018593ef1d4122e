package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v3"
	"github.com/yourusername/quizbattle/internal/client"
	"github.com/yourusername/quizbattle/internal/client/ui"
	"github.com/yourusername/quizbattle/internal/config"
	"github.com/yourusername/quizbattle/internal/logger"
	"go.uber.org/zap"
)

func main() {
	cmd := &cli.Command{
		Name:  "quizbattle",
		Usage: "join a live quiz battle from the terminal",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:     "room",
				Usage:    "battle room id",
				Sources:  cli.EnvVars("BATTLE_ROOM_ID"),
				Required: true,
			},
			&cli.IntFlag{
				Name:     "user",
				Usage:    "your user id",
				Sources:  cli.EnvVars("BATTLE_USER_ID"),
				Required: true,
			},
			&cli.StringFlag{Name: "server", Usage: "battle WebSocket URL (BATTLE_WS_URL)"},
			&cli.StringFlag{Name: "store", Usage: "snapshot store: memory, file or redis (SNAPSHOT_STORE)"},
			&cli.StringFlag{Name: "metrics-addr", Usage: "serve Prometheus metrics on this address (METRICS_ADDR)"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error (LOG_LEVEL)"},
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "log file; the TUI owns the terminal",
				Value: "quizbattle.log",
			},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cmd.IsSet("server") {
		cfg.ServerURL = cmd.String("server")
	}
	if cmd.IsSet("store") {
		cfg.SnapshotStore = cmd.String("store")
	}
	if cmd.IsSet("metrics-addr") {
		cfg.MetricsAddr = cmd.String("metrics-addr")
	}
	if cmd.IsSet("log-level") {
		cfg.LogLevel = cmd.String("log-level")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logger.New(logger.Config{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Service: "quizbattle-client",
		Output:  cmd.String("log-file"),
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync()

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, log)
	}

	duel, err := client.New(ctx, cfg, client.WithLogger(log))
	if err != nil {
		return fmt.Errorf("failed to create battle client: %w", err)
	}
	defer duel.Close()

	roomID, userID := cmd.Int("room"), cmd.Int("user")
	log.Info("starting battle monitor",
		zap.Int64("room_id", roomID),
		zap.Int64("user_id", userID),
		zap.String("server", cfg.ServerURL))

	p := tea.NewProgram(ui.NewModel(duel, cfg.ServerURL, roomID, userID), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("battle monitor: %w", err)
	}
	return nil
}

func serveMetrics(addr string, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	log.Info("serving metrics", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("metrics server stopped", zap.Error(err))
	}
}
