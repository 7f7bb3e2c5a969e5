package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/josiahcarlson/yogatable/internal/codec"
	"github.com/josiahcarlson/yogatable/internal/indexrow"
	"github.com/josiahcarlson/yogatable/internal/query"
)

// Search implements §4.5's read path: plan the filter+order against the
// current catalog, then execute the resulting packed-prefix scan,
// joining matched rowrefs back to _data in idata order. limit is capped
// at 1000; zero or negative selects that default.
func (s *Store) Search(ctx context.Context, filters []query.Filter, order []indexrow.ColumnDescriptor, limit, offset int) ([]map[string]interface{}, error) {
	plan, err := query.BuildPlan(s.Indexes(), filters, order)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}

	ids, err := s.runPlan(ctx, plan, limit, offset)
	if err != nil {
		return nil, err
	}
	return s.hydrate(ctx, ids)
}

// Count reports how many distinct documents a filter matches, without
// paying to decode and return their bodies.
func (s *Store) Count(ctx context.Context, filters []query.Filter) (int, error) {
	plan, err := query.BuildPlan(s.Indexes(), filters, nil)
	if err != nil {
		return 0, err
	}
	return s.countPlan(ctx, plan)
}

// runPlan executes a range or IN-set plan against _index, returning
// the distinct document ids it selects in idata order, honoring limit
// and offset. limit <= 0 means unbounded.
func (s *Store) runPlan(ctx context.Context, plan query.Plan, limit, offset int) ([]string, error) {
	orderDir := "ASC"
	if plan.Reverse {
		orderDir = "DESC"
	}

	var sqlStr string
	var args []interface{}

	switch plan.Mode {
	case query.ModeIn:
		placeholders := ""
		for i, k := range plan.InKeys {
			if i > 0 {
				placeholders += ","
			}
			placeholders += "?"
			args = append(args, k)
		}
		sqlStr = fmt.Sprintf(`SELECT DISTINCT rowref, idata FROM _index WHERE idata IN (%s) ORDER BY idata %s`, placeholders, orderDir)
	default:
		hiOp := "<"
		if plan.HiInclusive {
			hiOp = "<="
		}
		if plan.Hi == nil {
			sqlStr = fmt.Sprintf(`SELECT DISTINCT rowref, idata FROM _index WHERE idata >= ? ORDER BY idata %s`, orderDir)
			args = []interface{}{plan.Lo}
		} else {
			sqlStr = fmt.Sprintf(`SELECT DISTINCT rowref, idata FROM _index WHERE idata >= ? AND idata %s ? ORDER BY idata %s`, hiOp, orderDir)
			args = []interface{}{plan.Lo, plan.Hi}
		}
	}

	if limit > 0 {
		sqlStr += " LIMIT ?"
		args = append(args, limit)
		if offset > 0 {
			sqlStr += " OFFSET ?"
			args = append(args, offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, wrapDBError("search", err)
	}
	defer func() { _ = rows.Close() }()

	seen := map[string]bool{}
	var ids []string
	for rows.Next() {
		var id string
		var idata []byte
		if err := rows.Scan(&id, &idata); err != nil {
			return nil, wrapDBError("scan search row", err)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("iterate search rows", err)
	}
	return ids, nil
}

func (s *Store) countPlan(ctx context.Context, plan query.Plan) (int, error) {
	var sqlStr string
	var args []interface{}

	switch plan.Mode {
	case query.ModeIn:
		placeholders := ""
		for i, k := range plan.InKeys {
			if i > 0 {
				placeholders += ","
			}
			placeholders += "?"
			args = append(args, k)
		}
		sqlStr = fmt.Sprintf(`SELECT COUNT(DISTINCT rowref) FROM _index WHERE idata IN (%s)`, placeholders)
	default:
		hiOp := "<"
		if plan.HiInclusive {
			hiOp = "<="
		}
		if plan.Hi == nil {
			sqlStr = `SELECT COUNT(DISTINCT rowref) FROM _index WHERE idata >= ?`
			args = []interface{}{plan.Lo}
		} else {
			sqlStr = fmt.Sprintf(`SELECT COUNT(DISTINCT rowref) FROM _index WHERE idata >= ? AND idata %s ?`, hiOp)
			args = []interface{}{plan.Lo, plan.Hi}
		}
	}

	var n int
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&n); err != nil {
		return 0, wrapDBError("count", err)
	}
	return n, nil
}

// hydrate loads and decodes each id's document body, in the order ids
// were selected (idata order), skipping any id whose row raced with a
// concurrent delete.
func (s *Store) hydrate(ctx context.Context, ids []string) ([]map[string]interface{}, error) {
	out := make([]map[string]interface{}, 0, len(ids))
	for _, id := range ids {
		var raw []byte
		err := s.db.QueryRowContext(ctx, `SELECT data FROM _data WHERE _id = ?`, id).Scan(&raw)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			return nil, wrapDBError("hydrate", err)
		}
		doc, err := codec.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("store: decode %s: %w", id, err)
		}
		doc["_id"] = id
		out = append(out, doc)
	}
	return out, nil
}
