package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// registers "pgx"
	_ "github.com/jackc/pgx/v5/stdlib"
	// registers "postgres"
	_ "github.com/lib/pq"
)

// New opens a database/sql pool on one of the registered Postgres drivers
// ("postgres" for lib/pq, "pgx" for pgx) and pings it.
func New(driver, addr string, maxOpenConns, maxIdleConns int, maxIdleTime string) (*sql.DB, error) {
	switch driver {
	case "postgres", "pgx":
	case "":
		driver = "postgres"
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, addr)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)

	duration, err := time.ParseDuration(maxIdleTime)
	if err != nil {
		db.Close()
		return nil, err
	}
	db.SetConnMaxIdleTime(duration)

	// covers establishing the first connection
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}
