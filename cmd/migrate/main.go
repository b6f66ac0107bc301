package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"github.com/BradenHooton/vocalid/internal/config"
	"github.com/BradenHooton/vocalid/migrations"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// migrate applies the audit store migrations: migrate [up|down|status|version]
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	flag.Parse()
	command := flag.Arg(0)
	if command == "" {
		command = "up"
	}

	cfg, err := config.LoadDatabase()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	if !cfg.Enabled() {
		logger.Error("DB_HOST is required")
		os.Exit(1)
	}

	connConfig, err := pgx.ParseConfig(cfg.DSN())
	if err != nil {
		logger.Error("invalid database config", slog.Any("error", err))
		os.Exit(1)
	}
	db := stdlib.OpenDB(*connConfig)
	defer db.Close()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		logger.Error("failed to set dialect", slog.Any("error", err))
		os.Exit(1)
	}

	if err := goose.RunContext(context.Background(), command, db, "."); err != nil {
		logger.Error("migration failed", slog.String("command", command), slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("migration complete", slog.String("command", command))
}
