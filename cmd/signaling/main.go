package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/etherchat/config"
	"github.com/mossy-p/etherchat/internal/handlers"
	"github.com/mossy-p/etherchat/internal/logging"
	"github.com/mossy-p/etherchat/internal/redis"
	"github.com/mossy-p/etherchat/internal/signaling"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load configuration
	cfg := config.Load()
	logger := logging.Init(os.Stderr, cfg.LogLevel)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	hubOpts := []signaling.Option{signaling.WithLogger(logger)}

	// Presence mirroring is optional
	if cfg.Redis.Enabled() {
		client, err := redis.Connect(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer client.Close()
		logger.Info("Redis connection established", "host", cfg.Redis.Host)

		mirror := redis.NewMirror(client, cfg.Redis.TTL)
		hubOpts = append(hubOpts, signaling.WithPresence(mirror))
		g.Go(func() error { return mirror.Run(ctx) })
	}

	hub := signaling.NewHub(hubOpts...)
	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handlers.NewRouter(hub, cfg.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		logger.Info("Starting EtherChat signaling server", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
