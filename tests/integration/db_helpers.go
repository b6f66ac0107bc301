package integration

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/BradenHooton/vocalid/internal/database"
	"github.com/BradenHooton/vocalid/internal/models"
	"github.com/BradenHooton/vocalid/internal/repositories"
	"github.com/BradenHooton/vocalid/migrations"
)

// TestDB manages PostgreSQL testcontainer and database operations
type TestDB struct {
	Container  testcontainers.Container
	ConnString string
	Pool       *pgxpool.Pool
	DB         *database.DB
}

// SetupTestDatabase creates a PostgreSQL testcontainer, runs migrations, returns TestDB
func SetupTestDatabase(ctx context.Context, logger *slog.Logger) (*TestDB, error) {
	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("vocalid"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(ctx, pool); err != nil {
		pool.Close()
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &TestDB{
		Container:  container,
		ConnString: connStr,
		Pool:       pool,
		DB:         database.NewFromPool(pool, logger),
	}, nil
}

// runMigrations executes the embedded goose migrations
func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	// Suppress goose logs
	goose.SetLogger(log.New(nil, "", 0))
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}

	// Goose needs a database/sql handle
	sqlDB := stdlib.OpenDB(*pool.Config().ConnConfig)
	defer sqlDB.Close()

	if err := goose.UpContext(ctx, sqlDB, "."); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	return nil
}

// Teardown stops the container and closes the connection pool
func (db *TestDB) Teardown(ctx context.Context) error {
	if db.Pool != nil {
		db.Pool.Close()
	}
	if db.Container != nil {
		return db.Container.Terminate(ctx)
	}
	return nil
}

// CleanupTables truncates all tables for test isolation
func (db *TestDB) CleanupTables(ctx context.Context) error {
	if _, err := db.Pool.Exec(ctx, "TRUNCATE TABLE audit_logs"); err != nil {
		return fmt.Errorf("failed to truncate table audit_logs: %w", err)
	}
	return nil
}

// NewAuditRepository creates the audit repository over the test database
func (db *TestDB) NewAuditRepository() *repositories.AuditLogRepository {
	return repositories.NewAuditLogRepository(db.DB)
}

// SeedAuditLog inserts an audit row with the given age in days
func SeedAuditLog(ctx context.Context, pool *pgxpool.Pool, eventType string, severity models.Severity, ageDays int) (string, error) {
	query := `
		INSERT INTO audit_logs (id, timestamp, event_type, event_description, severity)
		VALUES (gen_random_uuid()::text, NOW() - make_interval(days => $3), $1, 'seeded', $2)
		RETURNING id
	`

	var id string
	if err := pool.QueryRow(ctx, query, eventType, string(severity), ageDays).Scan(&id); err != nil {
		return "", fmt.Errorf("failed to insert audit log: %w", err)
	}
	return id, nil
}

// WaitForAuditRows polls until the table holds at least want rows of eventType
func WaitForAuditRows(ctx context.Context, pool *pgxpool.Pool, eventType string, want int) (int, error) {
	deadline := time.Now().Add(5 * time.Second)
	for {
		var n int
		err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM audit_logs WHERE event_type = $1", eventType).Scan(&n)
		if err != nil {
			return 0, err
		}
		if n >= want || time.Now().After(deadline) {
			return n, nil
		}
		time.Sleep(50 * time.Millisecond)
	}
}
