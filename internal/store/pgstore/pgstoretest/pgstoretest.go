// Package pgstoretest provides the env-var-gated real-Postgres test harness
// for pgstore, grounded on internal/testutil.go's
// SetupTestDB/SkipIfNoTestDB/CleanupTestDB: tests needing a live database
// skip quietly in environments without one, unless TEST_REQUIRE_DB forces a
// hard failure (CI).
package pgstoretest

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/target/chronos/internal/store/pgstore/migrate"
)

// Config holds connection parameters for the test database.
type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

// DefaultConfig reads TEST_DB_* environment variables, falling back to the
// same docker-compose test profile defaults the testutil uses.
func DefaultConfig() Config {
	return Config{
		Host:     getEnvOrDefault("TEST_DB_HOST", "localhost"),
		Port:     getEnvOrDefault("TEST_DB_PORT", "55432"),
		User:     getEnvOrDefault("TEST_DB_USER", "chronos"),
		Password: getEnvOrDefault("TEST_DB_PASSWORD", "chronos"),
		DBName:   getEnvOrDefault("TEST_DB_NAME", "chronos"),
	}
}

func (c Config) dsn() string {
	hostPort := net.JoinHostPort(c.Host, c.Port)
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable", c.User, c.Password, hostPort, c.DBName)
}

// SkipIfUnavailable skips t unless a test database is reachable, or fails t
// outright if TEST_REQUIRE_DB/TEST_REQUIRE_INFRA is set.
func SkipIfUnavailable(t *testing.T) {
	t.Helper()
	cfg := DefaultConfig()
	db, err := sql.Open("pgx", cfg.dsn())
	if err != nil {
		failOrSkip(t, "open test database", err)
		return
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		failOrSkip(t, "ping test database", err)
	}
}

func failOrSkip(t *testing.T, what string, err error) {
	t.Helper()
	if requireDB() {
		t.Fatalf("%s: %v", what, err)
	}
	t.Skipf("%s: %v (set TEST_DB_HOST/PORT or TEST_REQUIRE_DB=1 to force)", what, err)
}

// Setup opens a connection to the test database, runs migrations, truncates
// every scheduling table, and registers t.Cleanup to close the connection.
func Setup(t *testing.T) *sql.DB {
	t.Helper()
	SkipIfUnavailable(t)

	cfg := DefaultConfig()
	db, err := sql.Open("pgx", cfg.dsn())
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		t.Fatalf("ping test database: %v", err)
	}
	if err := migrate.Run(ctx, db); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	Cleanup(t, db)

	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

// Cleanup truncates every scheduling table so tests run against an empty
// store, mirroring the CleanupTestDB reverse-dependency-order
// deletes generalized to this schema's own foreign keys.
func Cleanup(t *testing.T, db *sql.DB) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := db.ExecContext(ctx, `
		TRUNCATE TABLE fired_triggers, triggers, jobs, calendars, paused_trigger_groups,
			scheduler_state RESTART IDENTITY CASCADE
	`)
	if err != nil {
		t.Fatalf("truncate scheduling tables: %v", err)
	}
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

func requireDB() bool { return envBool("TEST_REQUIRE_DB") || envBool("TEST_REQUIRE_INFRA") }
