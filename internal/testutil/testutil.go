// Package testutil opens the Postgres and Redis instances integration tests run against.
//
// Both are optional: without them (or under -short) the calling test is skipped, unless
// TEST_REQUIRE_DB / TEST_REQUIRE_REDIS / TEST_REQUIRE_INFRA turn the skip into a failure.
package testutil

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
	// Registers the "pgx" database/sql driver.
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/migrate"
)

// Env is read from TEST_* variables. The defaults match the docker-compose test profile.
type Env struct {
	DBHost     string `env:"TEST_DB_HOST"      envDefault:"localhost"`
	DBPort     int    `env:"TEST_DB_PORT"      envDefault:"55432"`
	DBUser     string `env:"TEST_DB_USER"      envDefault:"triton"`
	DBPassword string `env:"TEST_DB_PASSWORD"  envDefault:"triton"`
	DBName     string `env:"TEST_DB_NAME"      envDefault:"triton"`
	DBSSLMode  string `env:"TEST_DB_SSL_MODE"  envDefault:"disable"`
	// Ephemeral gives every test its own schema instead of truncating shared tables.
	Ephemeral bool `env:"TEST_DB_EPHEMERAL"`

	RedisAddr string `env:"TEST_REDIS_ADDR" envDefault:"localhost:56379"`
	// RedisDB pins the Redis database; -1 reserves a free one in 1..15.
	RedisDB int `env:"TEST_REDIS_DB" envDefault:"-1"`

	RequireDB    bool `env:"TEST_REQUIRE_DB"`
	RequireRedis bool `env:"TEST_REQUIRE_REDIS"`
	RequireInfra bool `env:"TEST_REQUIRE_INFRA"`
}

// LoadEnv parses Env, failing the test on malformed values.
func LoadEnv(t testing.TB) Env {
	t.Helper()
	e, err := env.ParseAs[Env]()
	if err != nil {
		t.Fatalf("parse test env: %v", err)
	}
	return e
}

func (e Env) dbRequired() bool    { return e.RequireDB || e.RequireInfra }
func (e Env) redisRequired() bool { return e.RequireRedis || e.RequireInfra }

// DSN renders the test database URL. A non-empty searchPath scopes the session to it.
func (e Env) DSN(searchPath string) string {
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(e.DBUser, e.DBPassword),
		Host:   net.JoinHostPort(e.DBHost, strconv.Itoa(e.DBPort)),
		Path:   "/" + e.DBName,
	}
	q := u.Query()
	q.Set("sslmode", e.DBSSLMode)
	if searchPath != "" {
		q.Set("search_path", searchPath)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// truncateTables lists every table tests write to.
const truncateTables = "task_queue, artifacts, jobs, analytics_events"

// WithAutoDB runs fn against a migrated, empty database and cleans up afterwards.
func WithAutoDB(t testing.TB, fn func(*sql.DB)) {
	t.Helper()
	fn(OpenDB(t))
}

// OpenDB returns a migrated, empty database whose lifetime is bound to t.
func OpenDB(t testing.TB) *sql.DB {
	t.Helper()
	e := LoadEnv(t)
	if testing.Short() && !e.dbRequired() {
		t.Skip("skipping database test in short mode")
	}

	base := openDB(t, e.DSN(""), e.dbRequired())
	if !e.Ephemeral {
		migrateDB(t, base)
		truncate(t, base)
		t.Cleanup(func() {
			truncate(t, base)
			closeLogged(t, "test db", base)
		})
		return base
	}

	schema := schemaName()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := base.ExecContext(ctx, "CREATE SCHEMA "+schema); err != nil {
		closeLogged(t, "test db", base)
		t.Fatalf("create schema %s: %v", schema, err)
	}

	db := openDB(t, e.DSN(schema+",public"), true)
	t.Cleanup(func() {
		closeLogged(t, "schema db", db)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := base.ExecContext(ctx, "DROP SCHEMA IF EXISTS "+schema+" CASCADE"); err != nil {
			t.Logf("drop schema %s: %v", schema, err)
		}
		closeLogged(t, "test db", base)
	})
	t.Logf("using ephemeral schema %s", schema)
	migrateDB(t, db)
	return db
}

func openDB(t testing.TB, dsn string, required bool) *sql.DB {
	t.Helper()
	db, err := sql.Open("pgx", dsn)
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = db.PingContext(ctx)
		cancel()
		if err != nil {
			closeLogged(t, "test db", db)
		}
	}
	if err != nil {
		if required {
			t.Fatalf("test database not available: %v", err)
		}
		t.Skipf("test database not available: %v", err)
	}
	return db
}

func migrateDB(t testing.TB, db *sql.DB) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := migrate.Run(ctx, db); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
}

func truncate(t testing.TB, db *sql.DB) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, "TRUNCATE "+truncateTables+" CASCADE"); err != nil {
		t.Fatalf("truncate test tables: %v", err)
	}
}

func schemaName() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("t_%d", time.Now().UnixNano())
	}
	return "t_" + hex.EncodeToString(b)
}

func closeLogged(t testing.TB, name string, c interface{ Close() error }) {
	if err := c.Close(); err != nil {
		t.Logf("close %s: %v", name, err)
	}
}

// TestTime is the fixed clock origin used by repository tests.
func TestTime() time.Time {
	return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
}
