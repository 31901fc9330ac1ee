// Package postgres implements storage.Repository backed by PostgreSQL.
//
// The records table uses a composite primary key (bucket, record_type,
// record_id) that mirrors the key space used by the BBolt and in-memory
// backends. Values are stored as BYTEA alongside their CAS version.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmcleod/arbor/storage"
)

// Store implements storage.Repository backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given pgx connection pool.
func NewRepository(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// NewRepositoryFromDSN creates a connection pool from a DSN string, ensures
// the schema exists, and returns a new Repository.
func NewRepositoryFromDSN(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return NewRepository(pool), nil
}

// Ping checks connectivity; used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// execer abstracts both *pgxpool.Pool and pgx.Tx for shared statements.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const upsertSQL = `INSERT INTO records (bucket, record_type, record_id, data, version)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (bucket, record_type, record_id)
	DO UPDATE SET data = $4, version = $5`

func (s *Store) Put(ctx context.Context, bucket, recordType, recordID string, item *storage.Item) error {
	_, err := s.pool.Exec(ctx, upsertSQL, bucket, recordType, recordID, item.Data, int64(item.Version))
	return err
}

func (s *Store) Get(ctx context.Context, bucket, recordType, recordID string) (*storage.Item, error) {
	return getRow(ctx, s.pool, bucket, recordType, recordID)
}

func (s *Store) List(ctx context.Context, bucket, recordType string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT record_id FROM records WHERE bucket = $1 AND record_type = $2 ORDER BY record_id`,
		bucket, recordType)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *Store) Delete(ctx context.Context, bucket, recordType, recordID string) error {
	return deleteRow(ctx, s.pool, bucket, recordType, recordID)
}

func (s *Store) PutCAS(ctx context.Context, bucket, recordType, recordID string, expectedVersion uint64, item *storage.Item) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := putCASInTx(ctx, tx, bucket, recordType, recordID, expectedVersion, item); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) Batch(ctx context.Context, bucket string, fn func(tx storage.BatchTx) error) error {
	pgTx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer pgTx.Rollback(ctx) //nolint:errcheck

	if err := fn(&pgBatchTx{ctx: ctx, tx: pgTx, bucket: bucket}); err != nil {
		return err
	}
	return pgTx.Commit(ctx)
}

type pgBatchTx struct {
	ctx    context.Context
	tx     pgx.Tx
	bucket string
}

var _ storage.BatchTx = (*pgBatchTx)(nil)

func (btx *pgBatchTx) Get(recordType, recordID string) (*storage.Item, error) {
	return getRow(btx.ctx, btx.tx, btx.bucket, recordType, recordID)
}

func (btx *pgBatchTx) Put(recordType, recordID string, item *storage.Item) error {
	_, err := btx.tx.Exec(btx.ctx, upsertSQL, btx.bucket, recordType, recordID, item.Data, int64(item.Version))
	return err
}

func (btx *pgBatchTx) PutCAS(recordType, recordID string, expectedVersion uint64, item *storage.Item) error {
	return putCASInTx(btx.ctx, btx.tx, btx.bucket, recordType, recordID, expectedVersion, item)
}

func (btx *pgBatchTx) Delete(recordType, recordID string) error {
	return deleteRow(btx.ctx, btx.tx, btx.bucket, recordType, recordID)
}

func getRow(ctx context.Context, q execer, bucket, recordType, recordID string) (*storage.Item, error) {
	var (
		item    storage.Item
		version int64
	)
	err := q.QueryRow(ctx,
		`SELECT data, version FROM records WHERE bucket = $1 AND record_type = $2 AND record_id = $3`,
		bucket, recordType, recordID).Scan(&item.Data, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", recordType, recordID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	item.Version = uint64(version)
	return &item, nil
}

func deleteRow(ctx context.Context, q execer, bucket, recordType, recordID string) error {
	tag, err := q.Exec(ctx,
		`DELETE FROM records WHERE bucket = $1 AND record_type = $2 AND record_id = $3`,
		bucket, recordType, recordID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s/%s: %w", recordType, recordID, storage.ErrNotFound)
	}
	return nil
}

// putCASInTx performs a compare-and-swap put within an existing transaction.
// It is used by both the top-level PutCAS and the batch PutCAS methods.
func putCASInTx(ctx context.Context, tx pgx.Tx, bucket, recordType, recordID string, expectedVersion uint64, item *storage.Item) error {
	var currentVersion int64
	err := tx.QueryRow(ctx,
		`SELECT version FROM records
		 WHERE bucket = $1 AND record_type = $2 AND record_id = $3
		 FOR UPDATE`,
		bucket, recordType, recordID).Scan(&currentVersion)

	if errors.Is(err, pgx.ErrNoRows) {
		if expectedVersion != 0 {
			return storage.ErrCASFailed
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO records (bucket, record_type, record_id, data, version)
			 VALUES ($1, $2, $3, $4, $5)`,
			bucket, recordType, recordID, item.Data, int64(item.Version))
		return err
	}
	if err != nil {
		return err
	}

	if expectedVersion == 0 || uint64(currentVersion) != expectedVersion {
		return storage.ErrCASFailed
	}

	_, err = tx.Exec(ctx,
		`UPDATE records SET data = $4, version = $5
		 WHERE bucket = $1 AND record_type = $2 AND record_id = $3`,
		bucket, recordType, recordID, item.Data, int64(item.Version))
	return err
}
