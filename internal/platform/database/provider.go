package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	// Registers the "postgres" driver.
	_ "github.com/lib/pq"

	"github.com/watchfix/api/internal/platform/config"
)

const defaultPingTimeout = 5 * time.Second

// Open creates the connection pool described by cfg and verifies it with a ping.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	dsn := strings.TrimSpace(cfg.URL)
	if dsn == "" {
		return nil, errors.New("database: url is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("database: open: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := Ping(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Ping checks connectivity within a bounded timeout. It doubles as the readiness probe.
func Ping(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return errors.New("database: db is nil")
	}
	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return WrapError("database.ping", err)
	}
	return nil
}
