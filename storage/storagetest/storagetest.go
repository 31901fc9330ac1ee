// Package storagetest holds the conformance suite every storage.Repository
// backend must pass.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/arbor/storage"
)

// RunRepositoryTests exercises repo against the storage.Repository contract.
// The repository must start empty.
func RunRepositoryTests(t *testing.T, repo storage.Repository) {
	t.Helper()
	ctx := context.Background()
	const bucket = "b1"

	t.Run("PutGet", func(t *testing.T) {
		require.NoError(t, repo.Put(ctx, bucket, "USER", "u1", &storage.Item{Data: []byte("one"), Version: 1}))
		got, err := repo.Get(ctx, bucket, "USER", "u1")
		require.NoError(t, err)
		assert.Equal(t, []byte("one"), got.Data)
		assert.Equal(t, uint64(1), got.Version)
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := repo.Get(ctx, bucket, "USER", "nobody")
		assert.True(t, errors.Is(err, storage.ErrNotFound), "got %v", err)

		_, err = repo.Get(ctx, "no-such-bucket", "USER", "u1")
		assert.True(t, errors.Is(err, storage.ErrNotFound), "got %v", err)
	})

	t.Run("List", func(t *testing.T) {
		require.NoError(t, repo.Put(ctx, bucket, "USER", "u2", &storage.Item{Data: []byte("two")}))
		require.NoError(t, repo.Put(ctx, bucket, "IDENT", "u3", &storage.Item{Data: []byte("three")}))

		ids, err := repo.List(ctx, bucket, "USER")
		require.NoError(t, err)
		sort.Strings(ids)
		assert.Equal(t, []string{"u1", "u2"}, ids)

		ids, err = repo.List(ctx, "no-such-bucket", "USER")
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, repo.Put(ctx, bucket, "USER", "del", &storage.Item{Data: []byte("x")}))
		require.NoError(t, repo.Delete(ctx, bucket, "USER", "del"))
		_, err := repo.Get(ctx, bucket, "USER", "del")
		assert.True(t, errors.Is(err, storage.ErrNotFound))

		err = repo.Delete(ctx, bucket, "USER", "del")
		assert.True(t, errors.Is(err, storage.ErrNotFound), "got %v", err)
	})

	t.Run("PutCAS", func(t *testing.T) {
		v1 := &storage.Item{Data: []byte("v1"), Version: 1}
		v2 := &storage.Item{Data: []byte("v2"), Version: 2}

		require.NoError(t, repo.PutCAS(ctx, bucket, "USER", "cas", 0, v1))
		assert.ErrorIs(t, repo.PutCAS(ctx, bucket, "USER", "cas", 0, v1), storage.ErrCASFailed)
		assert.ErrorIs(t, repo.PutCAS(ctx, bucket, "USER", "missing", 1, v1), storage.ErrCASFailed)

		require.NoError(t, repo.PutCAS(ctx, bucket, "USER", "cas", 1, v2))
		assert.ErrorIs(t, repo.PutCAS(ctx, bucket, "USER", "cas", 1, v1), storage.ErrCASFailed)

		got, err := repo.Get(ctx, bucket, "USER", "cas")
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), got.Data)
	})

	t.Run("Batch", func(t *testing.T) {
		item := &storage.Item{Data: []byte("batch"), Version: 1}
		err := repo.Batch(ctx, bucket, func(tx storage.BatchTx) error {
			if err := tx.Put("B", "id1", item); err != nil {
				return err
			}
			if _, err := tx.Get("B", "id1"); err != nil {
				return err
			}
			return tx.PutCAS("B", "id2", 0, item)
		})
		require.NoError(t, err)
		_, err = repo.Get(ctx, bucket, "B", "id2")
		require.NoError(t, err)

		err = repo.Batch(ctx, bucket, func(tx storage.BatchTx) error {
			if err := tx.Put("B", "id3", item); err != nil {
				return err
			}
			return fmt.Errorf("simulated error")
		})
		require.Error(t, err)
		_, err = repo.Get(ctx, bucket, "B", "id3")
		assert.True(t, errors.Is(err, storage.ErrNotFound), "id3 should not exist after a failed batch")

		err = repo.Batch(ctx, bucket, func(tx storage.BatchTx) error {
			if err := tx.Put("B", "id1", &storage.Item{Data: []byte("changed"), Version: 2}); err != nil {
				return err
			}
			return tx.PutCAS("B", "id2", 0, item)
		})
		assert.ErrorIs(t, err, storage.ErrCASFailed)
		got, err := repo.Get(ctx, bucket, "B", "id1")
		require.NoError(t, err)
		assert.Equal(t, []byte("batch"), got.Data, "failed batch must roll back earlier writes")
	})
}
