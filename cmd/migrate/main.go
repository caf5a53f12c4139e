package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/acme/campaign-dialer/internal/config"
	"github.com/acme/campaign-dialer/internal/infra/db"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	configPath := flag.String("config", getEnv("CONFIG_FILE", "configs/config.yaml"), "path to configuration file")
	statusOnly := flag.Bool("status", false, "print migration status instead of applying")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg.Postgres.AutoMigrate = false

	pg, err := db.NewPostgres(ctx, cfg.Postgres)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pg.Close(context.Background())

	if *statusOnly {
		if err := db.MigrationStatus(ctx, pg.DB().DB); err != nil {
			log.Fatalf("migration status: %v", err)
		}
		return
	}
	if err := db.Migrate(ctx, pg.DB().DB); err != nil {
		log.Fatalf("migration failed: %v", err)
	}
	log.Println("migrations applied")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
