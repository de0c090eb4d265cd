package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"punch-chat/internal/auth"
	"punch-chat/internal/config"
	"punch-chat/internal/database"
	"punch-chat/internal/events"
	"punch-chat/internal/handlers"
	"punch-chat/internal/moderation"
	"punch-chat/internal/services"
	"punch-chat/internal/summary"
	"punch-chat/internal/websocket"
	"punch-chat/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load configuration
	cfg := config.Load()
	logger.Init(cfg.Env, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("db.open_failed", "err", err)
	}
	defer db.Close()

	gate, err := moderation.New(cfg.Moderation, cfg.OpenAI)
	if err != nil {
		logger.Fatal("moderation.init_failed", "err", err)
	}

	publisher := events.New(cfg.Kafka)
	defer publisher.Close()

	// Fan-out: in-process unless Redis is configured
	registry := websocket.NewRegistry()
	var hub websocket.Hub = websocket.NewLocalHub(registry)
	if cfg.Redis.Addr != "" {
		relay, err := websocket.NewRedisRelay(ctx, cfg.Redis, registry)
		if err != nil {
			logger.Fatal("relay.init_failed", "addr", cfg.Redis.Addr, "err", err)
		}
		defer relay.Close()
		go func() {
			if err := relay.Run(ctx); err != nil {
				logger.Error("relay.stopped", "err", err)
			}
		}()
		hub = relay
	}

	// Initialize services
	tokens := auth.NewTokenManager(cfg.JWT)
	authService := auth.NewService(db, tokens)
	roomService := services.NewRoomService(db)
	messageService := services.NewMessageService(db, roomService, gate, cfg.Moderation.Timeout, publisher)
	userService := services.NewUserService(db)
	summaryService := services.NewSummaryService(db, roomService, summary.New(cfg.OpenAI))

	router := handlers.NewRouter(cfg, handlers.Services{
		Auth:     authService,
		Rooms:    roomService,
		Messages: messageService,
		Users:    userService,
		Summary:  summaryService,
		Hub:      hub,
	})

	// WriteTimeout stays zero: it would cut off hijacked WebSocket connections.
	server := &http.Server{
		Addr:              cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		IdleTimeout:       2 * time.Minute,
	}

	go func() {
		logger.Info("server.started", "addr", cfg.Server.Port, "env", cfg.Env, "moderation", cfg.Moderation.Provider, "redis", cfg.Redis.Addr != "", "kafka", len(cfg.Kafka.Brokers) > 0)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server.failed", "err", err)
		}
	}()

	<-ctx.Done()
	logger.Info("server.shutting_down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server.shutdown_failed", "err", err)
	}
}
