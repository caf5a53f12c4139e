package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/acme/campaign-dialer/internal/api"
	"github.com/acme/campaign-dialer/internal/api/handlers"
	"github.com/acme/campaign-dialer/internal/app"
	"github.com/acme/campaign-dialer/internal/telemetry"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	configPath := flag.String("config", getEnv("CONFIG_FILE", "configs/config.yaml"), "path to configuration file")
	flag.Parse()

	container, err := app.Build(ctx, *configPath)
	if err != nil {
		log.Fatalf("failed to bootstrap application: %v", err)
	}
	defer container.Close(context.Background())

	cfg := container.Config
	shutdown, err := telemetry.Setup(ctx, cfg.Telemetry, "api", cfg.App.Version)
	if err != nil {
		log.Fatalf("failed to initialize telemetry: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	services, err := container.Services(ctx)
	if err != nil {
		log.Fatalf("failed to wire services: %v", err)
	}
	repos, err := container.Repositories(ctx)
	if err != nil {
		log.Fatalf("failed to wire repositories: %v", err)
	}
	dispatchers, err := container.Dispatchers(ctx)
	if err != nil {
		log.Fatalf("failed to wire dispatchers: %v", err)
	}

	health := make(map[string]handlers.HealthCheck)
	for name, check := range container.HealthChecks() {
		health[name] = check
	}

	handlerSet := handlers.NewHandlerSet(handlers.Dependencies{
		Campaigns:     services.Campaign,
		Dialing:       services.Orchestrator,
		Dnc:           repos.Dnc,
		Events:        dispatchers.Events,
		Health:        health,
		Logger:        container.Logger,
		DefaultRegion: cfg.Dialer.DefaultRegion,
	})
	server := api.NewServer(cfg.HTTP, handlerSet)

	container.Logger.Info("api listening")
	if err := server.Start(ctx); err != nil {
		log.Fatalf("server terminated: %v", err)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
