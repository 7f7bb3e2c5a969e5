package dispatch

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/josiahcarlson/yogatable/internal/config"
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

func TestWorkerInsertAndGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	w := NewWorker(s, config.Defaults(), 8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- w.Run(ctx) }()

	require.NoError(t, w.Submit(ctx, Request{
		CallerID: "c1", Seq: 1, Op: "insert",
		Args: []interface{}{map[string]interface{}{"name": "alice"}},
	}))

	resp := waitForCaller(t, w, "c1", 1)
	require.Equal(t, KindOK, resp.Kind)
	results, ok := resp.Value.([]store.InsertResult)
	require.True(t, ok)
	require.Len(t, results, 1)

	require.NoError(t, w.Submit(ctx, Request{
		CallerID: "c1", Seq: 2, Op: "get",
		Args: []interface{}{results[0].ID},
	}))
	resp = waitForCaller(t, w, "c1", 2)
	require.Equal(t, KindOK, resp.Kind)
	docs, ok := resp.Value.([]map[string]interface{})
	require.True(t, ok)
	require.Len(t, docs, 1)
	require.Equal(t, "alice", docs[0]["name"])

	require.NoError(t, w.Submit(ctx, Request{CallerID: "c1", Seq: 3, Op: "_quit"}))
	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop on _quit")
	}
}

func TestWorkerRejectsReservedOperation(t *testing.T) {
	s := openTestStore(t)
	w := NewWorker(s, config.Defaults(), 8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	require.NoError(t, w.Submit(ctx, Request{CallerID: "c1", Seq: 1, Op: "_secret"}))
	resp := waitForCaller(t, w, "c1", 1)
	require.Equal(t, KindException, resp.Kind)
	require.Equal(t, "ReservedOperationError", resp.ExcName)
}

func TestWorkerUnknownOperationReportsException(t *testing.T) {
	s := openTestStore(t)
	w := NewWorker(s, config.Defaults(), 8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	require.NoError(t, w.Submit(ctx, Request{CallerID: "c1", Seq: 1, Op: "not_a_real_op"}))
	resp := waitForCaller(t, w, "c1", 1)
	require.Equal(t, KindException, resp.Kind)
}

func waitForCaller(t *testing.T, w *Worker, callerID string, seq int64) Response {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case resp := <-w.Responses():
			if resp.CallerID == callerID && resp.Seq == seq {
				return resp
			}
		case <-deadline:
			t.Fatal("timed out waiting for response")
		}
	}
}
