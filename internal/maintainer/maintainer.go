// Package maintainer implements the background convergence loop of
// §4.4: forward indexing, drop drain, and incremental vacuum, each
// adapting its batch size toward a target latency.
package maintainer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/josiahcarlson/yogatable/internal/config"
	"github.com/josiahcarlson/yogatable/internal/indexrow"
	"github.com/josiahcarlson/yogatable/internal/store"
)

// Maintainer runs the three-phase idle loop for one table's Store.
// It is meant to run on a goroutine alongside the table's request
// handler, coordinated by the caller's pending() signal.
type Maintainer struct {
	store *store.Store
	cfg   config.Config
	log   *slog.Logger

	indexBatch  int
	deleteBatch int
	vacuumBatch int
}

// New constructs a Maintainer for s, seeding every phase's adaptive
// batch size at its configured cap.
func New(s *store.Store, cfg config.Config) *Maintainer {
	return &Maintainer{
		store:       s,
		cfg:         cfg,
		log:         slog.With("component", "maintainer"),
		indexBatch:  cfg.MaxIndexBatch,
		deleteBatch: cfg.MaxDeleteBatch,
		vacuumBatch: cfg.MaxVacuumBatch,
	}
}

// Run drives the ACTIVE/IDLE_WORK/WAIT state machine until ctx is
// cancelled. pending reports, without blocking, whether the table's
// request queue currently has work; the Maintainer only ever performs
// one phase's unit of work per idle turn, yielding back to pending
// work immediately (§4.4's ACTIVE transition).
func (m *Maintainer) Run(ctx context.Context, pending func() bool) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if pending() {
			continue
		}

		did, err := m.idleTurn(ctx)
		if err != nil {
			return fmt.Errorf("maintainer: %w", err)
		}
		if did {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.cfg.IdleTimeout):
		}
	}
}

// idleTurn runs at most one phase's unit of work, in priority order:
// forward indexing, then drop drain, then incremental vacuum. It
// reports whether any phase found work to do.
func (m *Maintainer) idleTurn(ctx context.Context) (bool, error) {
	did, err := m.forwardIndex(ctx)
	if err != nil || did {
		return did, err
	}
	did, err = m.drainDrop(ctx)
	if err != nil || did {
		return did, err
	}
	return m.vacuum(ctx)
}

// forwardIndex implements Phase 1: advance every in-progress index's
// watermark by reconciling up to one adaptive batch of documents
// scanned forward from the minimum watermark.
func (m *Maintainer) forwardIndex(ctx context.Context) (bool, error) {
	indexes := m.store.Indexes()
	var inProgress []indexrow.Index
	cursor := int64(indexrow.SentinelMax)
	for _, ix := range indexes {
		if ix.Deleting() || ix.LastIndexed == indexrow.SentinelMax {
			continue
		}
		inProgress = append(inProgress, ix)
		if ix.LastIndexed < cursor {
			cursor = ix.LastIndexed
		}
	}
	if len(inProgress) == 0 {
		return false, nil
	}

	start := time.Now()
	docs, err := m.store.ScanSince(ctx, cursor, m.indexBatch)
	if err != nil {
		return false, err
	}

	if len(docs) == 0 {
		for _, ix := range inProgress {
			if ix.LastIndexed == cursor {
				if err := m.store.SetLastIndexed(ctx, ix.ID, indexrow.SentinelMax); err != nil {
					return false, err
				}
			}
		}
		m.recordLatency(ctx, "index", elapsedMillis(start))
		return true, nil
	}

	if err := m.store.ReconcileBatch(ctx, docs, inProgress, m.cfg.IndexRowPolicy()); err != nil {
		return false, err
	}

	maxSeen := docs[len(docs)-1].LastUpdated
	for _, ix := range inProgress {
		if ix.LastIndexed == cursor {
			if err := m.store.SetLastIndexed(ctx, ix.ID, maxSeen); err != nil {
				return false, err
			}
		}
	}

	elapsed := time.Since(start)
	m.indexBatch = adaptBatch(m.indexBatch, elapsed, m.cfg.DesiredLatency, m.cfg.MaxIndexBatch)
	m.recordLatency(ctx, "index", elapsedMillis(start))
	m.recordBatchSize(ctx, "index", m.indexBatch)
	return true, nil
}

// drainDrop implements Phase 2: range-delete one batch of _index rows
// for the first DELETING index, purging its catalog row once drained.
func (m *Maintainer) drainDrop(ctx context.Context) (bool, error) {
	indexes := m.store.Indexes()
	target := -1
	for _, ix := range indexes {
		if ix.Deleting() {
			target = ix.ID
			break
		}
	}
	if target < 0 {
		return false, nil
	}

	start := time.Now()
	deleted, err := m.store.DrainIndexRows(ctx, target, m.deleteBatch)
	if err != nil {
		return false, err
	}

	if deleted == 0 {
		if err := m.store.PurgeIndex(ctx, target); err != nil {
			return false, err
		}
		m.log.Info("index purged", "index_id", target)
		m.recordLatency(ctx, "delete", elapsedMillis(start))
		return true, nil
	}

	elapsed := time.Since(start)
	m.deleteBatch = adaptBatch(m.deleteBatch, elapsed, m.cfg.DesiredLatency, m.cfg.MaxDeleteBatch)
	m.recordLatency(ctx, "delete", elapsedMillis(start))
	m.recordBatchSize(ctx, "delete", m.deleteBatch)
	return true, nil
}

// vacuum implements Phase 3: reclaim free pages when the free-page
// count exceeds the configured floor.
func (m *Maintainer) vacuum(ctx context.Context) (bool, error) {
	free, err := m.store.FreePageCount(ctx)
	if err != nil {
		return false, err
	}
	if free <= m.cfg.MinimumVacuumBlocks {
		return false, nil
	}

	start := time.Now()
	if err := m.store.IncrementalVacuum(ctx, m.vacuumBatch); err != nil {
		return false, err
	}

	elapsed := time.Since(start)
	m.vacuumBatch = adaptBatch(m.vacuumBatch, elapsed, m.cfg.DesiredLatency, m.cfg.MaxVacuumBatch)
	m.recordLatency(ctx, "vacuum", elapsedMillis(start))
	m.recordBatchSize(ctx, "vacuum", m.vacuumBatch)
	return true, nil
}

// adaptBatch implements §4.4's adaptive batch sizing formula:
// B_new = clamp(B * DESIRED_LATENCY / max(Δt, 1ms), 1, MAX_B).
func adaptBatch(current int, elapsed, desired time.Duration, maxB int) int {
	if elapsed < time.Millisecond {
		elapsed = time.Millisecond
	}
	next := float64(current) * float64(desired) / float64(elapsed)
	n := int(next)
	if n < 1 {
		n = 1
	}
	if n > maxB {
		n = maxB
	}
	return n
}

func elapsedMillis(start time.Time) float64 {
	return float64(time.Since(start)) / float64(time.Millisecond)
}
