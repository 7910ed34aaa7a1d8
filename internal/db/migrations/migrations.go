package migrations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrNothingToRollback is returned by Rollback when no known migration is applied
var ErrNothingToRollback = errors.New("no migrations to rollback")

// Migration is one reversible schema change
type Migration struct {
	ID        string
	Name      string
	UpSQL     string
	DownSQL   string
	CreatedAt time.Time
}

// All lists every migration in apply order
func All() []*Migration {
	return []*Migration{InitialSchema, TrajectoryRetention}
}

// Migrator applies and rolls back migrations, recording them in the migrations table
type Migrator struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates a new Migrator
func New(db *sql.DB, logger *slog.Logger) *Migrator {
	return &Migrator{db: db, logger: logger.With("component", "migrations")}
}

// Initialize creates the migrations table if it doesn't exist
func (m *Migrator) Initialize(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS migrations (
			id SERIAL PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`
	_, err := m.db.ExecContext(ctx, query)
	return err
}

// GetAppliedMigrations returns the names of applied migrations
func (m *Migrator) GetAppliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT name FROM migrations ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		applied[name] = true
	}
	return applied, rows.Err()
}

// run executes the migration body and its bookkeeping statement in one transaction
func (m *Migrator) run(ctx context.Context, migration *Migration, body, record string) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			m.logger.Warn("failed to rollback transaction", "migration", migration.Name, "error", err)
		}
	}()

	if _, err := tx.ExecContext(ctx, body); err != nil {
		return fmt.Errorf("failed to execute migration %s: %w", migration.Name, err)
	}
	if _, err := tx.ExecContext(ctx, record, migration.Name); err != nil {
		return fmt.Errorf("failed to record migration %s: %w", migration.Name, err)
	}
	return tx.Commit()
}

// ApplyMigration applies a single migration
func (m *Migrator) ApplyMigration(ctx context.Context, migration *Migration) error {
	return m.run(ctx, migration, migration.UpSQL, "INSERT INTO migrations (name) VALUES ($1)")
}

// RollbackMigration rolls back a single migration
func (m *Migrator) RollbackMigration(ctx context.Context, migration *Migration) error {
	return m.run(ctx, migration, migration.DownSQL, "DELETE FROM migrations WHERE name = $1")
}

// Migrate applies all pending migrations in order and returns how many ran
func (m *Migrator) Migrate(ctx context.Context, migrations []*Migration) (int, error) {
	if err := m.Initialize(ctx); err != nil {
		return 0, fmt.Errorf("failed to initialize migrations: %w", err)
	}

	applied, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get applied migrations: %w", err)
	}

	count := 0
	for _, migration := range migrations {
		if applied[migration.Name] {
			continue
		}
		if err := m.ApplyMigration(ctx, migration); err != nil {
			return count, fmt.Errorf("failed to apply migration %s: %w", migration.Name, err)
		}
		m.logger.Info("applied migration", "migration", migration.Name)
		count++
	}
	return count, nil
}

// Rollback rolls back the most recent applied migration and returns it
func (m *Migrator) Rollback(ctx context.Context, migrations []*Migration) (*Migration, error) {
	applied, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get applied migrations: %w", err)
	}

	var last *Migration
	for i := len(migrations) - 1; i >= 0; i-- {
		if applied[migrations[i].Name] {
			last = migrations[i]
			break
		}
	}
	if last == nil {
		return nil, ErrNothingToRollback
	}

	if err := m.RollbackMigration(ctx, last); err != nil {
		return nil, fmt.Errorf("failed to rollback migration %s: %w", last.Name, err)
	}
	m.logger.Info("rolled back migration", "migration", last.Name)
	return last, nil
}
