// Package indexrow implements §4.2's index-row generator: given a document
// and the set of declared indexes, it produces the (index_id, packed_key)
// rows to write into _index, expanding list/set-valued fields by cartesian
// product and enforcing the configured overflow policies.
package indexrow

import (
	"errors"
	"time"

	"github.com/josiahcarlson/yogatable/internal/codec"
	"github.com/josiahcarlson/yogatable/internal/pack"
)

// ColumnDescriptor is one element of a declared index: a field name plus
// its case/descending packing rules (§3 "Index definition").
type ColumnDescriptor struct {
	Field           string
	Descending      bool
	CaseInsensitive bool
}

// String renders the canonical textual form of one descriptor: an
// optional leading '-' for descending, the field name, and an optional
// trailing '-' for case-insensitive.
func (c ColumnDescriptor) String() string {
	s := c.Field
	if c.Descending {
		s = "-" + s
	}
	if c.CaseInsensitive {
		s = s + "-"
	}
	return s
}

func (c ColumnDescriptor) packOptions() pack.Options {
	return pack.Options{Descending: c.Descending, CaseInsensitive: c.CaseInsensitive}
}

// Canonical renders the canonical form of a full index definition: the
// comma-joined descriptors with a trailing comma (§3), used both as the
// catalog key and for the planner's prefix matching.
func Canonical(cols []ColumnDescriptor) string {
	s := ""
	for _, c := range cols {
		s += c.String() + ","
	}
	return s
}

// Flag bits for the _indexes catalog (§3).
const (
	FlagDeleting uint8 = 1 << iota
)

// SentinelMax is the last_indexed watermark meaning "fully caught up".
const SentinelMax int64 = (1 << 63) - 1

// Index describes one row of the _indexes catalog as seen by the
// generator: its id, columns, and current watermark/flags.
type Index struct {
	ID          int
	Columns     []ColumnDescriptor
	Flags       uint8
	LastIndexed int64
}

func (ix Index) Deleting() bool { return ix.Flags&FlagDeleting != 0 }

// OverflowPolicy controls MAX_INDEX_ROW_COUNT enforcement.
type OverflowPolicy int

const (
	TooManyRowsFail OverflowPolicy = iota
	TooManyRowsDiscard
)

// RowTooLongPolicy controls MAX_INDEX_ROW_LENGTH enforcement.
type RowTooLongPolicy int

const (
	RowTooLongFail RowTooLongPolicy = iota
	RowTooLongDiscard
	RowTooLongTruncate
)

// Policy bundles the configuration knobs from §4.2.
type Policy struct {
	MaxIndexRowCount  int
	MaxIndexRowLength int
	TooManyRows       OverflowPolicy
	RowTooLong        RowTooLongPolicy
}

// DefaultPolicy matches the documented defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxIndexRowCount:  100,
		MaxIndexRowLength: 512,
		TooManyRows:       TooManyRowsFail,
		RowTooLong:        RowTooLongFail,
	}
}

var (
	ErrTooManyIndexRows = errors.New("indexrow: too many index rows")
	ErrIndexRowTooLong  = errors.New("indexrow: index row too long")
)

// Row is one emitted (index_id, packed_key) pair. Key is "idata": the
// index-id prefix (pack(index_id) with its type tag stripped) followed by
// the packed column values.
type Row struct {
	IndexID int
	Key     []byte
}

// Generate produces the index rows a document contributes across the
// given (already-filtered-for-eligibility) indexes.
func Generate(doc map[string]interface{}, indexes []Index, policy Policy) (logicalCount int, rows []Row, err error) {
	type pending struct {
		indexID int
		prefix  []byte
		combos  [][]pack.Value
		opts    []pack.Options
	}
	var work []pending

	for _, ix := range indexes {
		sets := make([][]pack.Value, len(ix.Columns))
		opts := make([]pack.Options, len(ix.Columns))
		empty := false
		for i, col := range ix.Columns {
			vals, ferr := fieldValues(doc, col.Field)
			if ferr != nil {
				return 0, nil, ferr
			}
			if len(vals) == 0 {
				empty = true
				break
			}
			sets[i] = vals
			opts[i] = col.packOptions()
		}
		if empty {
			continue
		}
		combos := cartesian(sets)
		logicalCount += len(combos)

		prefix, perr := indexIDPrefix(ix.ID)
		if perr != nil {
			return 0, nil, perr
		}
		work = append(work, pending{indexID: ix.ID, prefix: prefix, combos: combos, opts: opts})
	}

	if logicalCount > policy.MaxIndexRowCount {
		if policy.TooManyRows == TooManyRowsFail {
			return logicalCount, nil, ErrTooManyIndexRows
		}
	}

	remaining := policy.MaxIndexRowCount
	capRows := logicalCount > policy.MaxIndexRowCount && policy.TooManyRows == TooManyRowsDiscard

outer:
	for _, w := range work {
		for _, combo := range w.combos {
			if capRows && remaining <= 0 {
				break outer
			}
			payload, perr := pack.PackAll(combo, w.opts)
			if perr != nil {
				return 0, nil, perr
			}
			if len(payload) > policy.MaxIndexRowLength {
				switch policy.RowTooLong {
				case RowTooLongFail:
					return logicalCount, nil, ErrIndexRowTooLong
				case RowTooLongDiscard:
					continue
				case RowTooLongTruncate:
					payload = payload[:policy.MaxIndexRowLength]
				}
			}
			key := make([]byte, 0, len(w.prefix)+len(payload))
			key = append(key, w.prefix...)
			key = append(key, payload...)
			rows = append(rows, Row{IndexID: w.indexID, Key: key})
			if capRows {
				remaining--
			}
		}
	}
	return logicalCount, rows, nil
}

// indexIDPrefix returns pack(index_id) with its leading type-tag byte
// stripped, per the "idata" definition in the GLOSSARY.
func indexIDPrefix(id int) ([]byte, error) {
	return IndexIDPrefix(id)
}

// IndexIDPrefix returns pack(index_id) with its leading type-tag byte
// stripped: the fixed prefix every idata row for that index starts
// with. Exported so internal/store and internal/query can recognise
// which index a given _index row belongs to without re-deriving it.
func IndexIDPrefix(id int) ([]byte, error) {
	b, err := pack.Pack(pack.Int(int64(id)), pack.Options{})
	if err != nil {
		return nil, err
	}
	return b[1:], nil
}

// fieldValues extracts the set of pack.Value a document field contributes:
// the empty set if the field is absent, a one-element set for scalars, and
// one element per item for list/set-valued fields.
func fieldValues(doc map[string]interface{}, field string) ([]pack.Value, error) {
	v, ok := doc[field]
	if !ok {
		return nil, nil
	}
	switch x := v.(type) {
	case codec.Set:
		return valuesOf(x)
	case []interface{}:
		return valuesOf(x)
	default:
		pv, err := ToPackValue(v)
		if err != nil {
			return nil, err
		}
		return []pack.Value{pv}, nil
	}
}

func valuesOf(items []interface{}) ([]pack.Value, error) {
	out := make([]pack.Value, 0, len(items))
	for _, item := range items {
		pv, err := ToPackValue(item)
		if err != nil {
			return nil, err
		}
		out = append(out, pv)
	}
	return out, nil
}

// ToPackValue converts one document field (or list element) into a
// pack.Value, per §3's Document data model.
func ToPackValue(v interface{}) (pack.Value, error) {
	switch x := v.(type) {
	case nil:
		return pack.Null(), nil
	case int:
		return pack.Int(int64(x)), nil
	case int32:
		return pack.Int(int64(x)), nil
	case int64:
		return pack.Int(x), nil
	case float32:
		return pack.Float(float64(x)), nil
	case float64:
		return pack.Float(x), nil
	case string:
		return pack.Text(x), nil
	case []byte:
		return pack.Bytes(x), nil
	case codec.Decimal:
		return pack.Dec(x), nil
	case codec.Date:
		return pack.DateFromTime(time.Time(x)), nil
	case codec.DateTime:
		return pack.DateTime(time.Time(x)), nil
	case codec.TimeOfDay:
		return pack.TimeOfDay(time.Duration(x)), nil
	default:
		return pack.Value{}, pack.ErrUnsupportedType
	}
}

// cartesian computes the cartesian product of per-column value sets, in
// deterministic odometer order (last column varies fastest).
func cartesian(sets [][]pack.Value) [][]pack.Value {
	total := 1
	for _, s := range sets {
		total *= len(s)
	}
	if total == 0 {
		return nil
	}
	out := make([][]pack.Value, 0, total)
	idx := make([]int, len(sets))
	for {
		combo := make([]pack.Value, len(sets))
		for i, s := range sets {
			combo[i] = s[idx[i]]
		}
		out = append(out, combo)

		pos := len(sets) - 1
		for pos >= 0 {
			idx[pos]++
			if idx[pos] < len(sets[pos]) {
				break
			}
			idx[pos] = 0
			pos--
		}
		if pos < 0 {
			break
		}
	}
	return out
}
