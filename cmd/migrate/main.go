// Command migrate applies or reverts the remote Postgres schema.
//
// Usage: migrate [up|down]
package main

import (
	"log/slog"
	"os"

	"github.com/ashureev/designhaus/internal/config"
	"github.com/ashureev/designhaus/internal/store"
	"github.com/joho/godotenv"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if cfg.BackendMode() != store.ModeRemote {
		slog.Error("DATABASE_URL is not set")
		os.Exit(1)
	}

	direction := "up"
	if len(os.Args) > 1 {
		direction = os.Args[1]
	}

	switch direction {
	case "up":
		err = store.RunMigrations(cfg.DatabaseURL, store.MigrationsFS())
	case "down":
		err = store.RollbackMigrations(cfg.DatabaseURL, store.MigrationsFS())
	default:
		slog.Error("Unknown direction, expected up or down", "direction", direction)
		os.Exit(2)
	}
	if err != nil {
		slog.Error("Migration failed", "direction", direction, "error", err)
		os.Exit(1)
	}

	slog.Info("Migrations complete", "direction", direction)
}
