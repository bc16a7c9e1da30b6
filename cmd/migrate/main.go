// Package main runs the schema migrations in db/migrations against the
// configured database, using goose's standard library driver so the same
// pgx/v5 stack backs both the migration runner and the worker pool.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/oss-support/journal-pipeline/internal/config"
	"github.com/oss-support/journal-pipeline/internal/obslog"
)

const migrationsDir = "db/migrations"

func main() {
	logger := obslog.New()

	var command string
	flag.StringVar(&command, "command", "up", `goose command: "up", "down", "status", or "version"`)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "FATAL: config:", err)
		os.Exit(1)
	}

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		logger.Error("FATAL: failed to open database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		logger.Error("FATAL: failed to set goose dialect", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := runCommand(db, command); err != nil {
		logger.Error("FATAL: migration failed", slog.String("command", command), slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("migration command finished", slog.String("command", command))
}

func runCommand(db *sql.DB, command string) error {
	switch command {
	case "up":
		return goose.Up(db, migrationsDir)
	case "down":
		return goose.Down(db, migrationsDir)
	case "status":
		return goose.Status(db, migrationsDir)
	case "version":
		return goose.Version(db, migrationsDir)
	default:
		return fmt.Errorf("migrate: unknown command %q", command)
	}
}

