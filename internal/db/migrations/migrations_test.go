package migrations

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/saviobatista/orbit-tracker/internal/logging"
)

func testMigrations() []*Migration {
	return []*Migration{
		{ID: "001_test", Name: "001_test", UpSQL: "CREATE TABLE test1 (id INTEGER);", DownSQL: "DROP TABLE test1;"},
		{ID: "002_test", Name: "002_test", UpSQL: "CREATE TABLE test2 (id INTEGER);", DownSQL: "DROP TABLE test2;"},
	}
}

func TestAll(t *testing.T) {
	all := All()
	if len(all) != 2 {
		t.Fatalf("Expected 2 migrations, got %d", len(all))
	}

	seen := map[string]bool{}
	for i, m := range all {
		if seen[m.Name] {
			t.Errorf("Duplicate migration name %s", m.Name)
		}
		seen[m.Name] = true
		if m.UpSQL == "" || m.DownSQL == "" {
			t.Errorf("Migration %s must define up and down SQL", m.Name)
		}
		if i > 0 && m.Name <= all[i-1].Name {
			t.Errorf("Migration %s is out of order", m.Name)
		}
	}

	if !strings.Contains(InitialSchema.UpSQL, "PRIMARY KEY (external_id, timestamp)") {
		t.Error("Expected trajectory_data to be keyed by spacecraft and timestamp")
	}
	if !strings.Contains(InitialSchema.UpSQL, "external_id BIGINT NOT NULL UNIQUE") {
		t.Error("Expected satellite_reference.external_id to be unique")
	}
}

func TestMigratorInitialize(t *testing.T) {
	tests := []struct {
		name        string
		setupMock   func(sqlmock.Sqlmock)
		expectError bool
	}{
		{
			name: "successful initialization",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`CREATE TABLE IF NOT EXISTS migrations`).
					WillReturnResult(sqlmock.NewResult(0, 0))
			},
		},
		{
			name: "database error",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`CREATE TABLE IF NOT EXISTS migrations`).
					WillReturnError(sql.ErrConnDone)
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("Failed to create mock DB: %v", err)
			}
			defer db.Close()

			tt.setupMock(mock)

			err = New(db, logging.Nop()).Initialize(context.Background())
			if tt.expectError && err == nil {
				t.Error("Expected error, got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Expected no error, got: %v", err)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("Unmet expectations: %v", err)
			}
		})
	}
}

func TestMigratorGetAppliedMigrations(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock DB: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT name FROM migrations ORDER BY id`).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("001_initial_schema").AddRow("002_trajectory_retention"))

	applied, err := New(db, logging.Nop()).GetAppliedMigrations(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(applied) != 2 || !applied["001_initial_schema"] || !applied["002_trajectory_retention"] {
		t.Errorf("Unexpected applied set %v", applied)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestMigratorApplyMigration(t *testing.T) {
	migration := testMigrations()[0]

	tests := []struct {
		name        string
		setupMock   func(sqlmock.Sqlmock)
		expectError bool
	}{
		{
			name: "successful apply",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(`CREATE TABLE test1`).WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectExec(`INSERT INTO migrations`).WithArgs("001_test").WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectCommit()
			},
		},
		{
			name: "begin fails",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin().WillReturnError(sql.ErrConnDone)
			},
			expectError: true,
		},
		{
			name: "body fails and rolls back",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(`CREATE TABLE test1`).WillReturnError(sql.ErrConnDone)
				mock.ExpectRollback()
			},
			expectError: true,
		},
		{
			name: "record fails and rolls back",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(`CREATE TABLE test1`).WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectExec(`INSERT INTO migrations`).WillReturnError(sql.ErrConnDone)
				mock.ExpectRollback()
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("Failed to create mock DB: %v", err)
			}
			defer db.Close()

			tt.setupMock(mock)

			err = New(db, logging.Nop()).ApplyMigration(context.Background(), migration)
			if tt.expectError && err == nil {
				t.Error("Expected error, got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Expected no error, got: %v", err)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("Unmet expectations: %v", err)
			}
		})
	}
}

func TestMigratorMigrate(t *testing.T) {
	tests := []struct {
		name          string
		setupMock     func(sqlmock.Sqlmock)
		expectedCount int
		expectError   bool
	}{
		{
			name: "apply all pending",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`CREATE TABLE IF NOT EXISTS migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectQuery(`SELECT name FROM migrations ORDER BY id`).WillReturnRows(sqlmock.NewRows([]string{"name"}))
				for _, name := range []string{"test1", "test2"} {
					mock.ExpectBegin()
					mock.ExpectExec(`CREATE TABLE ` + name).WillReturnResult(sqlmock.NewResult(0, 0))
					mock.ExpectExec(`INSERT INTO migrations`).WillReturnResult(sqlmock.NewResult(1, 1))
					mock.ExpectCommit()
				}
			},
			expectedCount: 2,
		},
		{
			name: "skip applied",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`CREATE TABLE IF NOT EXISTS migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectQuery(`SELECT name FROM migrations ORDER BY id`).
					WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("001_test"))
				mock.ExpectBegin()
				mock.ExpectExec(`CREATE TABLE test2`).WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectExec(`INSERT INTO migrations`).WithArgs("002_test").WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectCommit()
			},
			expectedCount: 1,
		},
		{
			name: "initialize fails",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`CREATE TABLE IF NOT EXISTS migrations`).WillReturnError(sql.ErrConnDone)
			},
			expectError: true,
		},
		{
			name: "second migration fails",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`CREATE TABLE IF NOT EXISTS migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectQuery(`SELECT name FROM migrations ORDER BY id`).WillReturnRows(sqlmock.NewRows([]string{"name"}))
				mock.ExpectBegin()
				mock.ExpectExec(`CREATE TABLE test1`).WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectExec(`INSERT INTO migrations`).WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectCommit()
				mock.ExpectBegin()
				mock.ExpectExec(`CREATE TABLE test2`).WillReturnError(sql.ErrConnDone)
				mock.ExpectRollback()
			},
			expectedCount: 1,
			expectError:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("Failed to create mock DB: %v", err)
			}
			defer db.Close()

			tt.setupMock(mock)

			count, err := New(db, logging.Nop()).Migrate(context.Background(), testMigrations())
			if tt.expectError && err == nil {
				t.Error("Expected error, got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Expected no error, got: %v", err)
			}
			if count != tt.expectedCount {
				t.Errorf("Expected %d applied, got %d", tt.expectedCount, count)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("Unmet expectations: %v", err)
			}
		})
	}
}

func TestMigratorRollback(t *testing.T) {
	tests := []struct {
		name        string
		setupMock   func(sqlmock.Sqlmock)
		expected    string
		expectedErr error
		expectError bool
	}{
		{
			name: "rolls back last applied",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT name FROM migrations ORDER BY id`).
					WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("001_test").AddRow("002_test"))
				mock.ExpectBegin()
				mock.ExpectExec(`DROP TABLE test2`).WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectExec(`DELETE FROM migrations WHERE name`).WithArgs("002_test").WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectCommit()
			},
			expected: "002_test",
		},
		{
			name: "nothing applied",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT name FROM migrations ORDER BY id`).WillReturnRows(sqlmock.NewRows([]string{"name"}))
			},
			expectedErr: ErrNothingToRollback,
			expectError: true,
		},
		{
			name: "query fails",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT name FROM migrations ORDER BY id`).WillReturnError(sql.ErrConnDone)
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("Failed to create mock DB: %v", err)
			}
			defer db.Close()

			tt.setupMock(mock)

			rolled, err := New(db, logging.Nop()).Rollback(context.Background(), testMigrations())
			if tt.expectError && err == nil {
				t.Error("Expected error, got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Expected no error, got: %v", err)
			}
			if tt.expectedErr != nil && !errors.Is(err, tt.expectedErr) {
				t.Errorf("Expected %v, got %v", tt.expectedErr, err)
			}
			if tt.expected != "" && (rolled == nil || rolled.Name != tt.expected) {
				t.Errorf("Expected rollback of %s, got %v", tt.expected, rolled)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("Unmet expectations: %v", err)
			}
		})
	}
}

func TestMigrations_Postgres(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx,
		"postgres:14-alpine",
		postgres.WithDatabase("orbit_tracker"),
		postgres.WithUsername("orbit"),
		postgres.WithPassword("orbit_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}
	defer func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	}()

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	m := New(db, logging.Nop())

	count, err := m.Migrate(ctx, All())
	if err != nil {
		t.Fatalf("Migrate() failed: %v", err)
	}
	if count != len(All()) {
		t.Errorf("Expected %d migrations applied, got %d", len(All()), count)
	}

	count, err = m.Migrate(ctx, All())
	if err != nil || count != 0 {
		t.Errorf("Second Migrate() should be a no-op, got %d, %v", count, err)
	}

	for range All() {
		if _, err := m.Rollback(ctx, All()); err != nil {
			t.Fatalf("Rollback() failed: %v", err)
		}
	}
	if _, err := m.Rollback(ctx, All()); !errors.Is(err, ErrNothingToRollback) {
		t.Errorf("Expected ErrNothingToRollback, got %v", err)
	}
}
