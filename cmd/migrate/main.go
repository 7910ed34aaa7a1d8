package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/saviobatista/orbit-tracker/internal/config"
	"github.com/saviobatista/orbit-tracker/internal/db/migrations"
	"github.com/saviobatista/orbit-tracker/internal/logging"
)

type options struct {
	dbURL    string
	rollback bool
}

// parseFlags reads the command line, defaulting the database to the configured one
func parseFlags(args []string, defaultDB string, output io.Writer) (*options, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(output)

	opts := &options{}
	fs.StringVar(&opts.dbURL, "db", defaultDB, "Database connection string")
	fs.BoolVar(&opts.rollback, "rollback", false, "Rollback the last migration")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if opts.dbURL == "" {
		return nil, errors.New("database connection string is required")
	}
	return opts, nil
}

// run applies pending migrations or rolls back the latest one
func run(ctx context.Context, db *sql.DB, rollback bool, logger *slog.Logger) error {
	migrator := migrations.New(db, logger)

	if rollback {
		m, err := migrator.Rollback(ctx, migrations.All())
		if errors.Is(err, migrations.ErrNothingToRollback) {
			logger.Info("nothing to roll back")
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to rollback migration: %w", err)
		}
		logger.Info("rollback complete", "migration", m.Name)
		return nil
	}

	n, err := migrator.Migrate(ctx, migrations.All())
	if err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	logger.Info("migrations complete", "applied", n)
	return nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger, logCloser := logging.New(cfg.Log)
	defer logCloser.Close()

	opts, err := parseFlags(os.Args[1:], cfg.DBConnStr, os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(2)
	}
	if err != nil {
		logger.Error("invalid arguments", "error", err)
		os.Exit(2)
	}

	db, err := sql.Open("postgres", opts.dbURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}

	if err := run(ctx, db, opts.rollback, logger); err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}
}
