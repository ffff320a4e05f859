package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Tyrowin/friendchat/internal/auth"
	"github.com/Tyrowin/friendchat/internal/chat"
	"github.com/Tyrowin/friendchat/internal/logger"
	"github.com/Tyrowin/friendchat/internal/server"
	"github.com/Tyrowin/friendchat/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "friendchat: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := server.SetConfig(server.NewConfigFromEnv())

	log, err := logger.New(logger.Config{
		Environment: cfg.Environment,
		Level:       cfg.LogLevel,
		Service:     "friendchat",
	})
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	tokens, err := auth.NewTokens(cfg.AuthSecret)
	if err != nil {
		return fmt.Errorf("AUTH_SECRET must be set: %w", err)
	}

	media, err := store.NewMedia(cfg.MediaDir)
	if err != nil {
		return err
	}
	db, err := store.New(cfg.DBPath, media, log)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	hub := server.NewHub(log)
	go hub.Run()
	log.Info("Hub started and ready to manage WebSocket sessions")

	service := chat.NewService(db, hub, log, chat.Options{
		MediaURL:       cfg.MediaURL,
		MaxAvatarBytes: cfg.MaxAvatarBytes,
	})

	mux := server.SetupRoutes(server.Dependencies{
		Hub:      hub,
		Handler:  service,
		Users:    db,
		Tokens:   tokens,
		MediaDir: media.Root(),
		Log:      log,
	})
	httpServer := server.CreateServer(cfg.Port, mux)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.StartServer(httpServer, log)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case sig := <-sigChan:
		log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	}

	if err := server.ShutdownServer(httpServer, shutdownTimeout, log); err != nil {
		log.Warn("HTTP shutdown incomplete", zap.Error(err))
	}
	if err := hub.Shutdown(shutdownTimeout); err != nil {
		log.Warn("Hub shutdown incomplete", zap.Error(err))
	}
	return nil
}
