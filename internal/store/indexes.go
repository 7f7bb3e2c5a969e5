package store

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/josiahcarlson/yogatable/internal/indexrow"
)

var columnNameRegex = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// reservedWords blocks column names that collide with SQL keywords the
// generated queries rely on being unambiguous identifiers.
var reservedWords = map[string]bool{
	"select": true, "from": true, "where": true, "insert": true, "update": true,
	"delete": true, "drop": true, "table": true, "index": true, "order": true,
	"group": true, "by": true, "limit": true, "offset": true, "and": true,
	"or": true, "not": true, "null": true, "primary": true, "key": true,
	"unique": true, "create": true, "alter": true, "join": true, "on": true,
}

// parseColumnSpec parses one §3 column descriptor string, e.g. "-name-"
// for a descending, case-insensitive "name" column.
func parseColumnSpec(spec string) (indexrow.ColumnDescriptor, error) {
	col := indexrow.ColumnDescriptor{}
	field := spec
	if strings.HasPrefix(field, "-") {
		col.Descending = true
		field = field[1:]
	}
	if strings.HasSuffix(field, "-") {
		col.CaseInsensitive = true
		field = field[:len(field)-1]
	}
	if field == "" || !columnNameRegex.MatchString(field) {
		return col, fmt.Errorf("%w: %q", ErrBadColumnName, spec)
	}
	if reservedWords[field] {
		return col, fmt.Errorf("%w: %q is a reserved word", ErrBadColumnName, field)
	}
	col.Field = field
	return col, nil
}

// parseCanonical inverts indexrow.Canonical, reconstructing the column
// descriptors stored in an _indexes.columns cell.
func parseCanonical(canonical string) ([]indexrow.ColumnDescriptor, error) {
	parts := strings.Split(canonical, ",")
	var cols []indexrow.ColumnDescriptor
	for _, p := range parts {
		if p == "" {
			continue
		}
		col, err := parseColumnSpec(p)
		if err != nil {
			return nil, err
		}
		cols = append(cols, col)
	}
	return cols, nil
}

// AddIndex declares a new secondary index over cols, validating column
// names and rejecting duplicate-or-prefix collisions with the existing
// catalog (§4.3). The index starts at last_indexed = 0: the maintainer
// will forward-index every existing document.
func (s *Store) AddIndex(ctx context.Context, specs []string) (indexrow.Index, error) {
	if len(specs) == 0 {
		return indexrow.Index{}, ErrIndexWarning
	}
	cols := make([]indexrow.ColumnDescriptor, 0, len(specs))
	for _, spec := range specs {
		col, err := parseColumnSpec(spec)
		if err != nil {
			return indexrow.Index{}, err
		}
		cols = append(cols, col)
	}
	canonical := indexrow.Canonical(cols)

	s.mu.RLock()
	for _, existing := range s.indexes {
		existingCanonical := indexrow.Canonical(existing.Columns)
		if strings.HasPrefix(existingCanonical, canonical) || strings.HasPrefix(canonical, existingCanonical) {
			s.mu.RUnlock()
			return indexrow.Index{}, fmt.Errorf("%w: %q collides with %q", ErrDuplicateOrPrefix, canonical, existingCanonical)
		}
	}
	nextID := 0
	for _, existing := range s.indexes {
		if existing.ID >= nextID {
			nextID = existing.ID + 1
		}
	}
	s.mu.RUnlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO _indexes (index_id, columns, flags, last_indexed) VALUES (?, ?, 0, 0)
	`, nextID, canonical)
	if err != nil {
		return indexrow.Index{}, wrapDBError("add index", err)
	}

	idx := indexrow.Index{ID: nextID, Columns: cols, Flags: 0, LastIndexed: 0}
	if err := s.refreshIndexCache(ctx); err != nil {
		return indexrow.Index{}, err
	}
	s.log.Info("index added", "index_id", idx.ID, "columns", canonical)
	return idx, nil
}

// SetLastIndexed advances a catalog row's watermark. The maintainer's
// forward-indexing phase (§4.4) calls this after each batch to record
// how far it has scanned _data.
func (s *Store) SetLastIndexed(ctx context.Context, indexID int, lastIndexed int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE _indexes SET last_indexed = ? WHERE index_id = ?`, lastIndexed, indexID)
	if err != nil {
		return wrapDBError("advance index watermark", err)
	}
	return s.refreshIndexCache(ctx)
}

// PurgeIndex removes a DELETING catalog row once its _index rows have
// fully drained (§4.4 Phase 2).
func (s *Store) PurgeIndex(ctx context.Context, indexID int) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM _indexes WHERE index_id = ?`, indexID)
	if err != nil {
		return wrapDBError("purge index catalog row", err)
	}
	return s.refreshIndexCache(ctx)
}

// DropIndex marks the matching catalog row DELETING; the maintainer
// drains its rows from _index and purges the catalog entry.
func (s *Store) DropIndex(ctx context.Context, specs []string) error {
	cols := make([]indexrow.ColumnDescriptor, 0, len(specs))
	for _, spec := range specs {
		col, err := parseColumnSpec(spec)
		if err != nil {
			return err
		}
		cols = append(cols, col)
	}
	canonical := indexrow.Canonical(cols)

	res, err := s.db.ExecContext(ctx, `
		UPDATE _indexes SET flags = flags | ? WHERE columns = ?
	`, indexrow.FlagDeleting, canonical)
	if err != nil {
		return wrapDBError("drop index", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapDBError("drop index rows affected", err)
	}
	if n == 0 {
		return fmt.Errorf("store: no index matches %q: %w", canonical, ErrNotFound)
	}
	return s.refreshIndexCache(ctx)
}
