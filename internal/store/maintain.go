package store

import (
	"context"
	"fmt"

	"github.com/josiahcarlson/yogatable/internal/codec"
	"github.com/josiahcarlson/yogatable/internal/indexrow"
)

// ScannedDoc is one row read by ScanSince: enough to reconcile index
// rows for it without a second round trip to _data.
type ScannedDoc struct {
	ID          string
	Doc         map[string]interface{}
	LastUpdated int64
}

// ScanSince reads up to limit rows from _data with last_updated >
// cursor, ascending by last_updated — the forward-indexing cursor scan
// of §4.4 Phase 1.
func (s *Store) ScanSince(ctx context.Context, cursor int64, limit int) ([]ScannedDoc, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT _id, data, last_updated FROM _data
		WHERE last_updated > ?
		ORDER BY last_updated ASC
		LIMIT ?
	`, cursor, limit)
	if err != nil {
		return nil, wrapDBError("scan _data since cursor", err)
	}
	defer func() { _ = rows.Close() }()

	var out []ScannedDoc
	for rows.Next() {
		var id string
		var data []byte
		var lastUpdated int64
		if err := rows.Scan(&id, &data, &lastUpdated); err != nil {
			return nil, wrapDBError("scan forward-indexing row", err)
		}
		doc, err := codec.Decode(data)
		if err != nil {
			return nil, err
		}
		doc["_id"] = id
		out = append(out, ScannedDoc{ID: id, Doc: doc, LastUpdated: lastUpdated})
	}
	return out, wrapDBError("iterate forward-indexing rows", rows.Err())
}

// ReconcileBatch applies the same index-only reconciliation as
// UpdateIndexOnly to every scanned document against the given
// in-progress indexes, all in one transaction per call.
func (s *Store) ReconcileBatch(ctx context.Context, docs []ScannedDoc, indexes []indexrow.Index, policy indexrow.Policy) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapDBError("begin reconcile batch", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, d := range docs {
		if err := reconcileIndexRows(ctx, tx, d.ID, d.Doc, indexes, policy); err != nil {
			return err
		}
	}
	return wrapDBError("commit reconcile batch", tx.Commit())
}

// DrainIndexRows deletes up to limit rows from _index whose idata falls
// within [pack(indexID)[1:], pack(indexID+1)[1:]) — one index's full
// key range — and reports how many rows were removed (§4.4 Phase 2).
func (s *Store) DrainIndexRows(ctx context.Context, indexID int, limit int) (int, error) {
	lo, err := indexrow.IndexIDPrefix(indexID)
	if err != nil {
		return 0, err
	}
	hi, err := indexrow.IndexIDPrefix(indexID + 1)
	if err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM _index WHERE rowid IN (
			SELECT rowid FROM _index WHERE idata >= ? AND idata < ? LIMIT ?
		)
	`, lo, hi, limit)
	if err != nil {
		return 0, wrapDBError("drain index rows", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapDBError("drain index rows affected", err)
	}
	return int(n), nil
}

// FreePageCount reports the database's current free-page count, used
// to decide whether incremental vacuuming (§4.4 Phase 3) is warranted.
func (s *Store) FreePageCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `PRAGMA freelist_count`).Scan(&n); err != nil {
		return 0, wrapDBError("read freelist_count", err)
	}
	return n, nil
}

// IncrementalVacuum reclaims up to pages free pages via SQLite's
// incremental-vacuum mode. The schema must have been created with
// `PRAGMA auto_vacuum = INCREMENTAL` for this to have any effect,
// which Open sets before applying the schema.
func (s *Store) IncrementalVacuum(ctx context.Context, pages int) error {
	// #nosec G201 - pages is an internally computed batch size, not user input
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`PRAGMA incremental_vacuum(%d)`, pages))
	return wrapDBError("incremental vacuum", err)
}
