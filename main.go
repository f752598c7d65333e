package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	oshttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"veche/internal/api"
	"veche/internal/auth"
	"veche/internal/commands"
	"veche/internal/config"
	"veche/internal/http"
	"veche/internal/presence"
	"veche/internal/storage"
	"veche/internal/ws"

	"golang.org/x/sync/errgroup"
)

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("veche", flag.ContinueOnError)
	issueToken := fs.String("issue-token", "", "User id to register and issue a session token for (needs a running server)")
	displayName := fs.String("display-name", "", "Display name for -issue-token")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*issueToken != "")
	if err != nil {
		return err
	}

	if *issueToken != "" {
		return commands.IssueToken(*issueToken, *displayName, cfg)
	}

	level, _ := config.ParseLevel(cfg.LogLevel)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	bbStorage, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = bbStorage.Close() }()

	// Nobody is connected yet, whatever a previous run left behind is stale.
	if err := bbStorage.ResetOnline(ctx); err != nil {
		return fmt.Errorf("reset online users: %w", err)
	}

	var status presence.StatusStore = bbStorage
	if cfg.RedisAddr != "" {
		client, err := storage.DialRedis(ctx, cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()

		redisStatus := storage.NewRedisStatus(client, bbStorage)
		if err := redisStatus.ResetOnline(ctx); err != nil {
			return fmt.Errorf("reset online users: %w", err)
		}
		status = redisStatus
		logger.Info("user status kept in redis", "addr", cfg.RedisAddr)
	}

	tokens, err := auth.NewTokenStore(ctx, auth.Config{TokenExpiry: cfg.TokenExpiry})
	if err != nil {
		return err
	}

	hub := ws.NewHub(ctx, ws.Config{
		Messages:            bbStorage,
		Status:              status,
		Tokens:              tokens,
		TypingTimeout:       cfg.TypingTimeout,
		RingTimeout:         cfg.RingTimeout,
		CollaboratorTimeout: cfg.CollaboratorTimeout,
		OutboxSize:          cfg.OutboxSize,
		Logger:              logger,
	})

	adminServer := http.NewAdminServer(api.NewAdminHandler(tokens, bbStorage), cfg.AdminAddr)
	apiServer := http.NewAPIServer(api.New(tokens, hub, bbStorage), ws.NewServer(hub, tokens), cfg.APIAddr)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return hub.Run(gCtx)
	})

	g.Go(func() error {
		err := adminServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		err := apiServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	// Wait for context cancellation (signal)
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down servers")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("admin server shutdown", "error", err)
		}
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("API server shutdown", "error", err)
		}
		return nil
	})

	return g.Wait()
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}
