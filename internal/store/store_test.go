package store_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/josiahcarlson/yogatable/internal/indexrow"
	"github.com/josiahcarlson/yogatable/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "table.sqlite")
	s, err := store.Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestInsertAssignsIDAndGetRoundTrips(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	results, err := s.Insert(ctx, []map[string]interface{}{{"name": "alice"}}, indexrow.DefaultPolicy())
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NotEmpty(t, results[0].ID)

	docs, err := s.Get(ctx, []string{results[0].ID})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, "alice", docs[0]["name"])
	require.Equal(t, results[0].ID, docs[0]["_id"])
}

func TestInsertHonorsExplicitID(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	results, err := s.Insert(ctx, []map[string]interface{}{{"_id": "doc-1", "name": "bob"}}, indexrow.DefaultPolicy())
	require.NoError(t, err)
	require.Equal(t, "doc-1", results[0].ID)
}

func TestUpdateRewritesDocument(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	results, err := s.Insert(ctx, []map[string]interface{}{{"_id": "doc-1", "name": "bob"}}, indexrow.DefaultPolicy())
	require.NoError(t, err)

	err = s.Update(ctx, map[string]interface{}{"_id": results[0].ID, "name": "robert"}, indexrow.DefaultPolicy())
	require.NoError(t, err)

	docs, err := s.Get(ctx, []string{results[0].ID})
	require.NoError(t, err)
	require.Equal(t, "robert", docs[0]["name"])
}

func TestUpdateUnknownIDFails(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	err := s.Update(ctx, map[string]interface{}{"_id": "missing", "name": "x"}, indexrow.DefaultPolicy())
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteRemovesDocumentAndIndexRows(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.AddIndex(ctx, []string{"i"})
	require.NoError(t, err)
	forceIndexCaughtUp(t, s)

	results, err := s.Insert(ctx, []map[string]interface{}{{"i": int64(1)}}, indexrow.DefaultPolicy())
	require.NoError(t, err)

	err = s.Delete(ctx, []string{results[0].ID})
	require.NoError(t, err)

	docs, err := s.Get(ctx, []string{results[0].ID})
	require.NoError(t, err)
	require.Empty(t, docs)

	remaining, err := s.DrainIndexRows(ctx, s.Indexes()[0].ID, 100)
	require.NoError(t, err)
	require.Equal(t, 0, remaining)
}

func TestAddIndexRejectsBadColumnName(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	_, err := s.AddIndex(ctx, []string{"1bad"})
	require.ErrorIs(t, err, store.ErrBadColumnName)
}

func TestAddIndexRejectsEmptyColumns(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	_, err := s.AddIndex(ctx, nil)
	require.ErrorIs(t, err, store.ErrIndexWarning)
}

func TestAddIndexRejectsPrefixCollision(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	_, err := s.AddIndex(ctx, []string{"a"})
	require.NoError(t, err)
	_, err = s.AddIndex(ctx, []string{"a", "b"})
	require.ErrorIs(t, err, store.ErrDuplicateOrPrefix)
}

func TestDropIndexMarksDeleting(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	_, err := s.AddIndex(ctx, []string{"a"})
	require.NoError(t, err)

	err = s.DropIndex(ctx, []string{"a"})
	require.NoError(t, err)

	idxs := s.Indexes()
	require.Len(t, idxs, 1)
	require.True(t, idxs[0].Deleting())
}

func TestGetDropKeyGuardsDropTable(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	err := s.DropTable(ctx, "wrong-key")
	require.ErrorIs(t, err, store.ErrInvalidDropKey)

	key, err := s.GetDropKey(ctx)
	require.NoError(t, err)
	require.NoError(t, s.DropTable(ctx, key))
}

// forceIndexCaughtUp simulates the maintainer having already converged
// a freshly added index, so that subsequent inserts in a test can
// exercise the "immediate indexing" path instead of waiting for a
// maintainer that these store-level tests don't run.
func forceIndexCaughtUp(t *testing.T, s *store.Store) {
	t.Helper()
	idxs := s.Indexes()
	require.Len(t, idxs, 1)
	require.NoError(t, s.SetLastIndexed(context.Background(), idxs[0].ID, store.SentinelMax))
}
