package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	_ "github.com/lib/pq" // PostgreSQL driver
)

// OpenPostgres connects to PostgreSQL. An empty dsn falls back to the
// DATABASE_URL environment variable.
func OpenPostgres(ctx context.Context, dsn string, retry RetryConfig, logger *log.Logger) (Store, error) {
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		return nil, &ValidationError{Field: "dsn", Reason: "database connection required (set storage.dsn or DATABASE_URL)"}
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: failed to open database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres store: failed to connect: %w", err)
	}

	s, err := newSQLStore(ctx, db, true, retry, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres store: %w", err)
	}
	return s, nil
}
