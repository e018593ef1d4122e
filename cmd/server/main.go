package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v3"
	"github.com/yourusername/quizbattle/internal/logger"
	"github.com/yourusername/quizbattle/internal/server"
	"go.uber.org/zap"
)

func main() {
	cmd := &cli.Command{
		Name:  "quizbattle-server",
		Usage: "stub STOMP-over-WebSocket battle server for local play and tests",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Usage:   "HTTP service address",
				Value:   ":8080",
				Sources: cli.EnvVars("BATTLE_SERVER_ADDR"),
			},
			&cli.IntFlag{
				Name:    "min-players",
				Usage:   "players that must be ready before a battle starts",
				Value:   1,
				Sources: cli.EnvVars("BATTLE_MIN_PLAYERS"),
			},
			&cli.IntFlag{
				Name:    "questions",
				Usage:   "questions per battle, 0 for the whole bank",
				Sources: cli.EnvVars("BATTLE_QUESTIONS"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Value:   "console",
				Sources: cli.EnvVars("LOG_FORMAT"),
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
	log, err := logger.New(logger.Config{
		Level:   cmd.String("log-level"),
		Format:  cmd.String("log-format"),
		Service: "quizbattle-server",
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync()

	srv := server.NewServer(server.Config{
		MinPlayers:         int(cmd.Int("min-players")),
		QuestionsPerBattle: int(cmd.Int("questions")),
	}, log)
	defer srv.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", srv.HandleWebSocket)
	mux.Handle("/metrics", promhttp.Handler())

	httpSrv := &http.Server{
		Addr:              cmd.String("addr"),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", zap.String("addr", httpSrv.Addr))
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen and serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
