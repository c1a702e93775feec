// Package db opens the database/sql pool backing the message ledger.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"voxa/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Open connects to the configured database and verifies the connection
// within the configured timeout.
func Open(ctx context.Context, cfg config.DatabaseConfig, log *slog.Logger) (*sql.DB, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database url is empty")
	}

	driver, dsn, err := driverFor(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}

	if cfg.Driver == "sqlite" {
		// a single writer avoids SQLITE_BUSY from the detached ledger updates
		pool.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		pool.SetMaxOpenConns(cfg.MaxOpenConns)
		pool.SetConnMaxIdleTime(5 * time.Minute)
	}

	timeout := cfg.ConnectTimeout()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := pool.PingContext(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Driver, err)
	}

	log.Info("database connected", slog.String("driver", cfg.Driver))
	return pool, nil
}

func driverFor(cfg config.DatabaseConfig) (string, string, error) {
	switch cfg.Driver {
	case "postgres":
		return "pgx", cfg.URL, nil
	case "sqlite":
		return "sqlite", sqliteDSN(cfg.URL), nil
	default:
		return "", "", fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func sqliteDSN(url string) string {
	if url == ":memory:" {
		return "file::memory:?_pragma=foreign_keys(ON)"
	}
	return fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", trimFileScheme(url))
}

func trimFileScheme(url string) string {
	if len(url) > 5 && url[:5] == "file:" {
		return url[5:]
	}
	return url
}
