package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/acme/voice-load-test/internal/app"
	"github.com/acme/voice-load-test/internal/telemetry"
	"github.com/acme/voice-load-test/internal/worker/recorder"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	configPath := flag.String("config", getEnv("CONFIG_FILE", "configs/config.yaml"), "path to configuration file")
	migrate := flag.Bool("migrate", false, "create tables before consuming")
	flag.Parse()

	container, err := app.Build(ctx, *configPath, app.NeedPostgres|app.NeedScylla|app.NeedKafka)
	if err != nil {
		log.Fatalf("failed to bootstrap application: %v", err)
	}
	defer container.Close(context.Background())

	cfg := container.Config
	shutdown, err := telemetry.Setup(ctx, cfg.Telemetry, cfg.App, "recorder")
	if err != nil {
		log.Fatalf("failed to initialize telemetry: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	if *migrate {
		if err := container.Postgres.Migrate(ctx); err != nil {
			log.Fatalf("failed to migrate postgres: %v", err)
		}
		if err := container.Scylla.EnsureSchema(ctx); err != nil {
			log.Fatalf("failed to migrate scylla: %v", err)
		}
	}

	if err := container.EnsureTopics(ctx); err != nil {
		log.Fatalf("failed to ensure kafka topics: %v", err)
	}

	reader := container.Kafka.NewReader(cfg.Kafka.EventTopic, cfg.Kafka.ConsumerGroupID+"-recorder")
	defer reader.Close()

	repos := container.Repositories()
	w := recorder.New(repos.Calls, repos.Stats, container.Logger)
	if err := w.Run(ctx, reader); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("recorder terminated: %v", err)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
