package postgres

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// recordsDDL creates the records table backing every bucket. Each statement
// uses IF NOT EXISTS.
//
//go:embed schema.sql
var recordsDDL string

// EnsureSchema creates the records table when it is missing. NewRepositoryFromDSN
// calls it on every start.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, recordsDDL); err != nil {
		return fmt.Errorf("creating records table: %w", err)
	}
	return nil
}
