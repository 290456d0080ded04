package storage

import (
	"context"
	"database/sql"
	"fmt"

	"shopadmin/internal/domain/catalog"
)

type Container struct {
	db      *sql.DB
	Catalog catalog.Store
}

func NewContainer(db *sql.DB) *Container {
	return &Container{
		db:      db,
		Catalog: catalog.NewRepository(db),
	}
}

// Ping reports whether the database is reachable.
func (c *Container) Ping(ctx context.Context) error {
	if c.db == nil {
		return fmt.Errorf("storage container db is nil")
	}
	return c.db.PingContext(ctx)
}

// WithCatalogTx runs fn against a catalog store bound to one transaction.
// The transaction commits only if fn returns nil.
func (c *Container) WithCatalogTx(ctx context.Context, fn func(s catalog.Store) error) error {
	if c.db == nil {
		return fmt.Errorf("storage container db is nil")
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		_ = tx.Rollback() // no-op after commit
	}()

	if err := fn(catalog.NewRepository(tx)); err != nil {
		return err
	}

	return tx.Commit()
}
