package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/acme/voice-load-test/internal/api"
	"github.com/acme/voice-load-test/internal/api/handlers"
	"github.com/acme/voice-load-test/internal/app"
	"github.com/acme/voice-load-test/internal/scheduler"
	"github.com/acme/voice-load-test/internal/telemetry"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	configPath := flag.String("config", getEnv("CONFIG_FILE", "configs/config.yaml"), "path to configuration file")
	flag.Parse()

	container, err := app.Build(ctx, *configPath, app.NeedPostgres|app.NeedScylla|app.NeedRedis|app.NeedKafka)
	if err != nil {
		log.Fatalf("failed to bootstrap application: %v", err)
	}
	defer container.Close(context.Background())

	cfg := container.Config
	shutdown, err := telemetry.Setup(ctx, cfg.Telemetry, cfg.App, "api")
	if err != nil {
		log.Fatalf("failed to initialize telemetry: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	if err := container.EnsureTopics(ctx); err != nil {
		log.Fatalf("failed to ensure kafka topics: %v", err)
	}

	services := container.Services()
	launcher := scheduler.NewLauncher(ctx, services.Scheduler, container.Logger)
	defer launcher.Wait()

	checks := map[string]handlers.HealthCheck{
		"postgres": container.Postgres.Ping,
		"redis":    container.Redis.Ping,
		"scylla":   container.Scylla.Ping,
	}

	handlerSet := handlers.NewHandlerSet(services.LoadTest, launcher, checks, container.Logger)
	server := api.NewServer(cfg.HTTP, handlerSet)

	container.Logger.Info("api listening", zap.Int("port", cfg.HTTP.Port))
	if err := server.Run(ctx); err != nil {
		container.Logger.Error("server terminated", zap.Error(err))
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
