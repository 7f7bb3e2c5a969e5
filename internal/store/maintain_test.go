package store_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/josiahcarlson/yogatable/internal/indexrow"
	"github.com/josiahcarlson/yogatable/internal/store"
)

func TestScanSinceOrdersByLastUpdated(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "table.sqlite")
	s, err := store.Open(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	for i := 0; i < 5; i++ {
		_, err := s.Insert(ctx, []map[string]interface{}{{"i": int64(i)}}, indexrow.DefaultPolicy())
		require.NoError(t, err)
	}

	docs, err := s.ScanSince(ctx, 0, 3)
	require.NoError(t, err)
	require.Len(t, docs, 3)
	require.Less(t, docs[0].LastUpdated, docs[1].LastUpdated)
	require.Less(t, docs[1].LastUpdated, docs[2].LastUpdated)
}

func TestDrainIndexRowsRemovesOnlyTargetIndex(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "table.sqlite")
	s, err := store.Open(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	idxA, err := s.AddIndex(ctx, []string{"a"})
	require.NoError(t, err)
	require.NoError(t, s.SetLastIndexed(ctx, idxA.ID, store.SentinelMax))
	idxB, err := s.AddIndex(ctx, []string{"b"})
	require.NoError(t, err)
	require.NoError(t, s.SetLastIndexed(ctx, idxB.ID, store.SentinelMax))

	_, err = s.Insert(ctx, []map[string]interface{}{{"a": int64(1), "b": int64(2)}}, indexrow.DefaultPolicy())
	require.NoError(t, err)

	deleted, err := s.DrainIndexRows(ctx, idxA.ID, 100)
	require.NoError(t, err)
	require.Equal(t, 1, deleted)

	deleted, err = s.DrainIndexRows(ctx, idxA.ID, 100)
	require.NoError(t, err)
	require.Equal(t, 0, deleted)

	deleted, err = s.DrainIndexRows(ctx, idxB.ID, 100)
	require.NoError(t, err)
	require.Equal(t, 1, deleted)
}
