package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/acme/voice-load-test/internal/app"
	"github.com/acme/voice-load-test/internal/queue"
	"github.com/acme/voice-load-test/internal/telemetry"
	"github.com/acme/voice-load-test/internal/worker/agent"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	configPath := flag.String("config", getEnv("CONFIG_FILE", "configs/config.yaml"), "path to configuration file")
	flag.Parse()

	container, err := app.Build(ctx, *configPath, app.NeedRedis|app.NeedKafka)
	if err != nil {
		log.Fatalf("failed to bootstrap application: %v", err)
	}
	defer container.Close(context.Background())

	cfg := container.Config
	shutdown, err := telemetry.Setup(ctx, cfg.Telemetry, cfg.App, "agent")
	if err != nil {
		log.Fatalf("failed to initialize telemetry: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	if err := container.EnsureTopics(ctx); err != nil {
		log.Fatalf("failed to ensure kafka topics: %v", err)
	}
	if err := container.Err(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	jobs := queue.NewJobReader(container.Kafka, cfg.Kafka.DispatchTopic, cfg.Kafka.ConsumerGroupID, cfg.Agent.Name, container.Logger)
	defer jobs.Close()

	var slots agent.Slots
	if limiter := container.Limiters().Concurrency; limiter.Enabled() {
		slots = limiter
	}

	opts := agent.Options{Agent: cfg.Agent.Name, JobTimeout: cfg.Agent.JobTimeout}
	if events := container.Dispatchers().Events; events != nil {
		opts.Events = events
	}

	w := agent.New(jobs, container.Services().Calls, slots, opts, container.Logger)

	container.Logger.Info("agent worker ready", zap.String("agent", cfg.Agent.Name), zap.String("direction", cfg.Agent.Direction))
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("agent worker terminated: %v", err)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
