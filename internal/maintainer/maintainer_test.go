package maintainer

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/josiahcarlson/yogatable/internal/config"
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

// runUntilIdle drives turns until no phase reports work, bounding
// iterations against an infinite loop if convergence never happens.
func runUntilIdle(t *testing.T, m *Maintainer, ctx context.Context) {
	t.Helper()
	for i := 0; i < 1000; i++ {
		did, err := m.idleTurn(ctx)
		require.NoError(t, err)
		if !did {
			return
		}
	}
	t.Fatal("maintainer did not converge within 1000 turns")
}

func TestForwardIndexingConvergesRetroactiveIndex(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	cfg := config.Defaults()

	_, err := s.Insert(ctx, []map[string]interface{}{{"_id": "doc-1", "i": int64(42)}}, indexrow.DefaultPolicy())
	require.NoError(t, err)

	_, err = s.AddIndex(ctx, []string{"i"})
	require.NoError(t, err)

	m := New(s, cfg)
	runUntilIdle(t, m, ctx)

	idxs := s.Indexes()
	require.Len(t, idxs, 1)
	require.Equal(t, store.SentinelMax, idxs[0].LastIndexed)
}

func TestDropDrainPurgesCatalogRow(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	cfg := config.Defaults()

	idx, err := s.AddIndex(ctx, []string{"i"})
	require.NoError(t, err)
	require.NoError(t, s.SetLastIndexed(ctx, idx.ID, store.SentinelMax))

	_, err = s.Insert(ctx, []map[string]interface{}{{"i": int64(1)}}, indexrow.DefaultPolicy())
	require.NoError(t, err)

	require.NoError(t, s.DropIndex(ctx, []string{"i"}))

	m := New(s, cfg)
	runUntilIdle(t, m, ctx)

	require.Empty(t, s.Indexes())
}

func TestAdaptBatchClampsToBounds(t *testing.T) {
	require.Equal(t, 1, adaptBatch(10, 100*time.Millisecond, 10*time.Millisecond, 100))
	require.Equal(t, 100, adaptBatch(10, time.Microsecond, 10*time.Millisecond, 100))
}

func TestRunStopsOnContextCancel(t *testing.T) {
	s := openTestStore(t)
	cfg := config.Defaults()
	cfg.IdleTimeout = time.Millisecond

	m := New(s, cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := m.Run(ctx, func() bool { return false })
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
