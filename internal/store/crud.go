package store

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/josiahcarlson/yogatable/internal/codec"
	"github.com/josiahcarlson/yogatable/internal/indexrow"
)

// InsertResult reports what one document contributed on insert.
type InsertResult struct {
	ID           string
	LogicalCount int
	EmittedRows  int
}

// Insert assigns _id (a time-ordered UUID) when absent, stamps
// last_updated, and writes the document plus any index rows it
// immediately qualifies for (§4.3) in one transaction. Multiple
// documents are inserted as separate rows within the same transaction.
func (s *Store) Insert(ctx context.Context, docs []map[string]interface{}, policy indexrow.Policy) ([]InsertResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapDBError("begin insert", err)
	}
	defer func() { _ = tx.Rollback() }()

	eligible := s.eligibleForImmediateIndexing()

	results := make([]InsertResult, 0, len(docs))
	for _, doc := range docs {
		id, _ := doc["_id"].(string)
		if id == "" {
			id = uuid.Must(uuid.NewV7()).String()
			doc["_id"] = id
		}
		lastUpdated := s.seq.next()

		data, err := codec.Encode(doc)
		if err != nil {
			return nil, fmt.Errorf("store: encode document %s: %w", id, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO _data (_id, data, last_updated) VALUES (?, ?, ?)
		`, id, data, lastUpdated)
		if err != nil {
			return nil, wrapDBError(fmt.Sprintf("insert document %s", id), err)
		}

		logicalCount, rows, err := indexrow.Generate(doc, eligible, policy)
		if err != nil {
			return nil, err
		}
		if err := writeIndexRows(ctx, tx, id, rows); err != nil {
			return nil, err
		}

		results = append(results, InsertResult{ID: id, LogicalCount: logicalCount, EmittedRows: len(rows)})
	}

	if err := tx.Commit(); err != nil {
		return nil, wrapDBError("commit insert", err)
	}
	return results, nil
}

// Update requires doc["_id"] to already exist, rewrites the document,
// and reconciles every eligible index's rows for it by diffing the old
// and new row sets (§4.3).
func (s *Store) Update(ctx context.Context, doc map[string]interface{}, policy indexrow.Policy) error {
	id, _ := doc["_id"].(string)
	if id == "" {
		return ErrMissingID
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapDBError("begin update", err)
	}
	defer func() { _ = tx.Rollback() }()

	data, err := codec.Encode(doc)
	if err != nil {
		return fmt.Errorf("store: encode document %s: %w", id, err)
	}
	lastUpdated := s.seq.next()

	res, err := tx.ExecContext(ctx, `UPDATE _data SET data = ?, last_updated = ? WHERE _id = ?`, data, lastUpdated, id)
	if err != nil {
		return wrapDBError(fmt.Sprintf("update document %s", id), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update %s: %w", id, ErrNotFound)
	}

	if err := reconcileIndexRows(ctx, tx, id, doc, s.eligibleForImmediateIndexing(), policy); err != nil {
		return err
	}
	return wrapDBError("commit update", tx.Commit())
}

// UpdateIndexOnly reconciles index rows for doc against exactly the
// given indexes without touching the _data row, so last_updated is
// left as it is. The maintainer's forward-indexing phase uses the
// batched form, ReconcileBatch, which runs the same reconciliation.
func (s *Store) UpdateIndexOnly(ctx context.Context, id string, doc map[string]interface{}, indexes []indexrow.Index, policy indexrow.Policy) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapDBError("begin index-only update", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := reconcileIndexRows(ctx, tx, id, doc, indexes, policy); err != nil {
		return err
	}
	return wrapDBError("commit index-only update", tx.Commit())
}

// Delete removes documents by _id from _data, cascading to every
// _index row whose rowref matches, in one transaction.
func (s *Store) Delete(ctx context.Context, ids []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapDBError("begin delete", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM _data WHERE _id = ?`, id); err != nil {
			return wrapDBError(fmt.Sprintf("delete document %s", id), err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM _index WHERE rowref = ?`, id); err != nil {
			return wrapDBError(fmt.Sprintf("delete index rows for %s", id), err)
		}
	}
	return wrapDBError("commit delete", tx.Commit())
}

// Get performs a point lookup of one or more documents by _id.
func (s *Store) Get(ctx context.Context, ids []string) ([]map[string]interface{}, error) {
	docs := make([]map[string]interface{}, 0, len(ids))
	for _, id := range ids {
		var data []byte
		err := s.db.QueryRowContext(ctx, `SELECT data FROM _data WHERE _id = ?`, id).Scan(&data)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, wrapDBError(fmt.Sprintf("get document %s", id), err)
		}
		doc, err := codec.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("store: decode document %s: %w", id, err)
		}
		doc["_id"] = id
		docs = append(docs, doc)
	}
	return docs, nil
}

// eligibleForImmediateIndexing returns the non-DELETING catalog entries
// that are fully caught up, i.e. the ones insert/update can materialise
// rows for synchronously rather than leaving to the maintainer.
func (s *Store) eligibleForImmediateIndexing() []indexrow.Index {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var eligible []indexrow.Index
	for _, ix := range s.indexes {
		if !ix.Deleting() && ix.LastIndexed == SentinelMax {
			eligible = append(eligible, ix)
		}
	}
	return eligible
}

func writeIndexRows(ctx context.Context, exec dbExecutor, id string, rows []indexrow.Row) error {
	for _, row := range rows {
		if _, err := exec.ExecContext(ctx, `INSERT INTO _index (idata, rowref) VALUES (?, ?)`, row.Key, id); err != nil {
			return wrapDBError(fmt.Sprintf("insert index row for %s", id), err)
		}
	}
	return nil
}

// reconcileIndexRows computes the index rows doc should have across
// indexes, diffs them against what _index currently holds for rowref =
// id restricted to those same indexes, and applies the add/remove
// delta. Rows are compared by their full packed key, matching §4.3's
// "compute add/remove difference" directly.
func reconcileIndexRows(ctx context.Context, tx dbExecutor, id string, doc map[string]interface{}, indexes []indexrow.Index, policy indexrow.Policy) error {
	if len(indexes) == 0 {
		return nil
	}

	prefixes := make([][]byte, len(indexes))
	for i, ix := range indexes {
		p, err := indexrow.IndexIDPrefix(ix.ID)
		if err != nil {
			return err
		}
		prefixes[i] = p
	}

	rows, err := tx.QueryContext(ctx, `SELECT rowid, idata FROM _index WHERE rowref = ?`, id)
	if err != nil {
		return wrapDBError("read existing index rows", err)
	}
	type existingRow struct {
		rowid int64
		idata []byte
	}
	var existing []existingRow
	for rows.Next() {
		var er existingRow
		if err := rows.Scan(&er.rowid, &er.idata); err != nil {
			_ = rows.Close()
			return wrapDBError("scan existing index row", err)
		}
		for _, p := range prefixes {
			if bytes.HasPrefix(er.idata, p) {
				existing = append(existing, er)
				break
			}
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return wrapDBError("iterate existing index rows", err)
	}
	_ = rows.Close()

	_, newRows, err := indexrow.Generate(doc, indexes, policy)
	if err != nil {
		return err
	}

	wanted := make(map[string]bool, len(newRows))
	for _, r := range newRows {
		wanted[string(r.Key)] = true
	}
	have := make(map[string]int64, len(existing))
	for _, er := range existing {
		have[string(er.idata)] = er.rowid
	}

	for key, rowid := range have {
		if !wanted[key] {
			if _, err := tx.ExecContext(ctx, `DELETE FROM _index WHERE rowid = ?`, rowid); err != nil {
				return wrapDBError("delete stale index row", err)
			}
		}
	}
	for _, r := range newRows {
		if _, already := have[string(r.Key)]; already {
			continue
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO _index (idata, rowref) VALUES (?, ?)`, r.Key, id); err != nil {
			return wrapDBError("insert reconciled index row", err)
		}
	}
	return nil
}
