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

	"golang.org/x/sync/errgroup"

	"github.com/aaronwang/live-auction/broadcast-service/internal/gateway"
	redisClient "github.com/aaronwang/live-auction/broadcast-service/internal/redis"
	wsHandler "github.com/aaronwang/live-auction/broadcast-service/internal/websocket"
	"github.com/aaronwang/live-auction/shared/config"
	"github.com/aaronwang/live-auction/shared/logging"
	"github.com/aaronwang/live-auction/shared/models"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		slog.Error("failed to load .env", slog.Any("error", err))
		os.Exit(1)
	}
	log := logging.New("broadcast-service")
	log.Info("starting broadcast service")

	// Load configuration
	cfg := loadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize Redis subscriber
	subscriber, err := redisClient.NewSubscriber(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, log)
	if err != nil {
		log.Error("failed to connect to redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer subscriber.Close()

	// Subscribe to every stream's auction events using pattern matching
	if err := subscriber.SubscribeToPattern(ctx, models.EventPattern); err != nil {
		log.Error("failed to subscribe to redis channels", slog.Any("error", err))
		os.Exit(1)
	}
	log.Info("subscribed to auction events", slog.String("pattern", models.EventPattern))

	wsManager := wsHandler.NewManager(log)
	commands := gateway.NewClient(cfg.GatewayURL, cfg.GatewayTimeout)
	handler := wsHandler.NewHandler(wsManager, commands, cfg.JWTSecret, log)

	server := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      handler.SetupRoutes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	messages := make(chan *redisClient.Message, 256)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		wsManager.Run(gctx)
		return nil
	})
	g.Go(func() error {
		err := subscriber.Listen(gctx, messages)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	// Redis Pub/Sub -> WebSocket rooms
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case msg := <-messages:
				wsManager.Broadcast(msg.StreamID, []byte(msg.Payload))
			}
		}
	})
	g.Go(func() error {
		log.Info("broadcast service listening", slog.String("addr", cfg.ServerAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		// Graceful shutdown
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("server forced to shutdown", slog.Any("error", err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("broadcast service error", slog.Any("error", err))
		os.Exit(1)
	}
	log.Info("broadcast service stopped")
}

// Config holds application configuration
type Config struct {
	ServerAddr     string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	GatewayURL     string
	GatewayTimeout time.Duration
	JWTSecret      string
}

// loadConfig loads configuration from environment variables
func loadConfig() *Config {
	return &Config{
		ServerAddr:     config.GetEnv("SERVER_ADDR", ":8081"),
		RedisAddr:      config.GetEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  config.GetEnv("REDIS_PASSWORD", ""),
		RedisDB:        config.GetEnvInt("REDIS_DB", 0),
		GatewayURL:     config.GetEnv("GATEWAY_URL", "http://localhost:8080"),
		GatewayTimeout: config.GetEnvDuration("GATEWAY_TIMEOUT", 5*time.Second),
		JWTSecret:      config.GetEnv("JWT_SECRET", "dev-secret"),
	}
}
