// Package query implements §4.5's planner: choosing the narrowest index
// covering a filter+order, and translating that filter into a single
// packed-prefix range or IN-set scan over _index. It is pure and
// storage-agnostic — internal/store executes the Plan it produces.
package query

import (
	"errors"
	"fmt"

	"github.com/josiahcarlson/yogatable/internal/indexrow"
	"github.com/josiahcarlson/yogatable/internal/pack"
)

// Op is one comparison operator a Filter triple may use.
type Op int

const (
	Eq Op = iota
	Lt
	Lte
	Gt
	Gte
	In
)

// Filter is one (column, op, value) triple. For Op == In, Value must
// be a slice of the field's scalar type.
type Filter struct {
	Column string
	Op     Op
	Value  interface{}
}

var (
	// ErrMalformedFilter reports a filter that violates §4.5's grouping
	// or mixed-operator constraints.
	ErrMalformedFilter = errors.New("query: malformed filter")
	// ErrNoCoveringIndex reports that no declared index covers the
	// filter+order combination (TABLE_INDEX_ERROR in §7).
	ErrNoCoveringIndex = errors.New("query: no index covers this filter and order")
)

// PlanMode distinguishes the two shapes §4.5 describes for a plan.
type PlanMode int

const (
	// ModeRange scans idata in [Lo, Hi) or [Lo, Hi].
	ModeRange PlanMode = iota
	// ModeIn scans the disjunction of idata == (prefix || pack(v)) for
	// each v in an IN set.
	ModeIn
)

// Plan is the fully resolved scan internal/store executes.
type Plan struct {
	IndexID     int
	Reverse     bool
	Mode        PlanMode
	Lo, Hi      []byte
	HiInclusive bool
	InKeys      [][]byte
}

// column groups the filter constraints declared against one field.
type column struct {
	field   string
	eq      *Filter
	gt      *Filter // exclusive lower bound
	gte     *Filter // inclusive lower bound
	lt      *Filter // exclusive upper bound
	lte     *Filter // inclusive upper bound
	in      *Filter
	order   int // position of first appearance, preserves filter order
}

// groupFilters validates and groups a flat filter list by column,
// enforcing §4.5's constraints: at most one equality and one min and
// one max per column, and IN cannot coexist with any range operator
// anywhere in the filter.
func groupFilters(filters []Filter) ([]*column, error) {
	var order []*column
	byField := map[string]*column{}
	hasIn := false
	hasRange := false

	for _, f := range filters {
		c, ok := byField[f.Column]
		if !ok {
			c = &column{field: f.Column, order: len(order)}
			byField[f.Column] = c
			order = append(order, c)
		}
		switch f.Op {
		case Eq:
			if c.eq != nil {
				return nil, fmt.Errorf("%w: duplicate equality on %q", ErrMalformedFilter, f.Column)
			}
			fc := f
			c.eq = &fc
		case Gt:
			if c.gt != nil || c.gte != nil {
				return nil, fmt.Errorf("%w: duplicate lower bound on %q", ErrMalformedFilter, f.Column)
			}
			fc := f
			c.gt = &fc
			hasRange = true
		case Gte:
			if c.gt != nil || c.gte != nil {
				return nil, fmt.Errorf("%w: duplicate lower bound on %q", ErrMalformedFilter, f.Column)
			}
			fc := f
			c.gte = &fc
			hasRange = true
		case Lt:
			if c.lt != nil || c.lte != nil {
				return nil, fmt.Errorf("%w: duplicate upper bound on %q", ErrMalformedFilter, f.Column)
			}
			fc := f
			c.lt = &fc
			hasRange = true
		case Lte:
			if c.lt != nil || c.lte != nil {
				return nil, fmt.Errorf("%w: duplicate upper bound on %q", ErrMalformedFilter, f.Column)
			}
			fc := f
			c.lte = &fc
			hasRange = true
		case In:
			if c.in != nil {
				return nil, fmt.Errorf("%w: duplicate IN on %q", ErrMalformedFilter, f.Column)
			}
			fc := f
			c.in = &fc
			hasIn = true
		default:
			return nil, fmt.Errorf("%w: unknown operator on %q", ErrMalformedFilter, f.Column)
		}
	}

	if hasIn && hasRange {
		return nil, fmt.Errorf("%w: IN cannot coexist with a range operator", ErrMalformedFilter)
	}
	return order, nil
}

// BuildPlan chooses the narrowest index whose canonical form covers
// filters followed by order (forward), or order reversed (reverse),
// and constructs the packed range or IN-set scan for it.
func BuildPlan(indexes []indexrow.Index, filters []Filter, order []indexrow.ColumnDescriptor) (Plan, error) {
	cols, err := groupFilters(filters)
	if err != nil {
		return Plan{}, err
	}

	forwardSuffix := canonicalSuffix(order, false)
	reverseSuffix := canonicalSuffix(order, true)

	var best *indexrow.Index
	var bestReverse bool
	for i := range indexes {
		ix := &indexes[i]
		if ix.Deleting() {
			continue
		}
		if !coversFilterColumns(ix.Columns, cols) {
			continue
		}
		prefixLen := len(cols)
		rest := ix.Columns[min(prefixLen, len(ix.Columns)):]
		restCanonical := indexrow.Canonical(rest)

		forwardMatch := restCanonical == forwardSuffix
		reverseMatch := restCanonical == reverseSuffix

		if !forwardMatch && !reverseMatch {
			continue
		}
		if best == nil || len(ix.Columns) < len(best.Columns) {
			best = ix
			bestReverse = !forwardMatch && reverseMatch
		}
	}

	if best == nil {
		return Plan{}, ErrNoCoveringIndex
	}

	return buildPlanForIndex(*best, cols, bestReverse)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// coversFilterColumns checks that the index's leading columns are
// exactly the filtered columns, in the order the filter introduced
// them, field-for-field.
func coversFilterColumns(indexCols []indexrow.ColumnDescriptor, filterCols []*column) bool {
	if len(indexCols) < len(filterCols) {
		return false
	}
	for i, c := range filterCols {
		if indexCols[i].Field != c.field {
			return false
		}
	}
	return true
}

// canonicalSuffix renders the order clause's canonical form, optionally
// flipping every column's descending bit (used to test the reverse
// regex per §4.5).
func canonicalSuffix(order []indexrow.ColumnDescriptor, flip bool) string {
	cols := make([]indexrow.ColumnDescriptor, len(order))
	for i, c := range order {
		cols[i] = c
		if flip {
			cols[i].Descending = !cols[i].Descending
		}
	}
	return indexrow.Canonical(cols)
}

// buildPlanForIndex packs the filter's endpoints against the chosen
// index's column descriptors, swapping endpoints for descending
// columns and prepending the index-id prefix.
func buildPlanForIndex(ix indexrow.Index, cols []*column, reverse bool) (Plan, error) {
	prefix, err := indexrow.IndexIDPrefix(ix.ID)
	if err != nil {
		return Plan{}, err
	}

	if len(cols) > 0 && cols[len(cols)-1].in != nil {
		return buildInPlan(ix, prefix, cols, reverse)
	}
	return buildRangePlan(ix, prefix, cols, reverse)
}

func packOptionsFor(ix indexrow.Index, i int) pack.Options {
	col := ix.Columns[i]
	return pack.Options{Descending: col.Descending, CaseInsensitive: col.CaseInsensitive}
}

func buildInPlan(ix indexrow.Index, prefix []byte, cols []*column, reverse bool) (Plan, error) {
	last := len(cols) - 1
	eqPrefix, err := packEqualityPrefix(ix, cols[:last])
	if err != nil {
		return Plan{}, err
	}

	values, ok := cols[last].in.Value.([]interface{})
	if !ok {
		return Plan{}, fmt.Errorf("%w: IN value must be a list", ErrMalformedFilter)
	}
	opts := packOptionsFor(ix, last)

	keys := make([][]byte, 0, len(values))
	for _, v := range values {
		pv, err := indexrow.ToPackValue(v)
		if err != nil {
			return Plan{}, err
		}
		packed, err := pack.Pack(pv, opts)
		if err != nil {
			return Plan{}, err
		}
		key := make([]byte, 0, len(prefix)+len(eqPrefix)+len(packed))
		key = append(key, prefix...)
		key = append(key, eqPrefix...)
		key = append(key, packed...)
		keys = append(keys, key)
	}

	return Plan{IndexID: ix.ID, Reverse: reverse, Mode: ModeIn, InKeys: keys}, nil
}

func buildRangePlan(ix indexrow.Index, prefix []byte, cols []*column, reverse bool) (Plan, error) {
	eqPrefix, err := packEqualityPrefix(ix, cols)
	if err != nil {
		return Plan{}, err
	}

	lo := append([]byte{}, prefix...)
	lo = append(lo, eqPrefix...)
	base := append([]byte{}, lo...)
	hi := append([]byte{}, lo...)
	hiInclusive := false
	haveUpper := false

	if len(cols) > 0 {
		last := cols[len(cols)-1]
		i := len(cols) - 1
		opts := packOptionsFor(ix, i)

		var loFilter, hiFilter *Filter
		loInclusive, hiInclusiveBound := true, false
		switch {
		case last.gt != nil:
			loFilter, loInclusive = last.gt, false
		case last.gte != nil:
			loFilter, loInclusive = last.gte, true
		}
		switch {
		case last.lt != nil:
			hiFilter, hiInclusiveBound = last.lt, false
		case last.lte != nil:
			hiFilter, hiInclusiveBound = last.lte, true
		}

		if loFilter != nil {
			packed, err := packFilterValue(*loFilter, opts)
			if err != nil {
				return Plan{}, err
			}
			lower := append(append([]byte{}, prefix...), eqPrefix...)
			lower = append(lower, packed...)
			if !loInclusive {
				lower = incrementKey(lower)
			}
			if ix.Columns[i].Descending {
				// A descending column's endpoints swap: the filter's
				// lower bound packs to the larger encoded value.
				hi = lower
				hiInclusive = loInclusive
				haveUpper = true
			} else {
				lo = lower
			}
		}
		if hiFilter != nil {
			packed, err := packFilterValue(*hiFilter, opts)
			if err != nil {
				return Plan{}, err
			}
			upper := append(append([]byte{}, prefix...), eqPrefix...)
			upper = append(upper, packed...)
			if ix.Columns[i].Descending {
				lo = upper
				if !hiInclusiveBound {
					lo = incrementKey(lo)
				}
			} else {
				hi = upper
				hiInclusive = hiInclusiveBound
				haveUpper = true
			}
		}
	}

	if !haveUpper {
		// No upper endpoint: scan to the end of the index-id and
		// equality prefix, not just the keys sharing the lower bound.
		hi = incrementKey(base)
		hiInclusive = false
	}

	return Plan{IndexID: ix.ID, Reverse: reverse, Mode: ModeRange, Lo: lo, Hi: hi, HiInclusive: hiInclusive}, nil
}

// packEqualityPrefix packs every filter column's equality value (all
// but possibly the last, which may instead carry a range or IN
// constraint) using the matched index's descriptor rules.
func packEqualityPrefix(ix indexrow.Index, cols []*column) ([]byte, error) {
	var out []byte
	for i, c := range cols {
		if c.eq == nil {
			if i != len(cols)-1 {
				return nil, fmt.Errorf("%w: column %q needs an equality to be a prefix", ErrMalformedFilter, c.field)
			}
			continue
		}
		opts := packOptionsFor(ix, i)
		packed, err := packFilterValue(*c.eq, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, packed...)
	}
	return out, nil
}

func packFilterValue(f Filter, opts pack.Options) ([]byte, error) {
	pv, err := indexrow.ToPackValue(f.Value)
	if err != nil {
		return nil, err
	}
	return pack.Pack(pv, opts)
}

// incrementKey returns key with its last non-0xFF byte incremented and
// every following byte stripped, producing the exclusive upper bound
// of a prefix scan (§4.5's "increment the last non-0xFF byte").
func incrementKey(key []byte) []byte {
	out := append([]byte{}, key...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] != 0xFF {
			out[i]++
			return out[:i+1]
		}
	}
	// All bytes were 0xFF: no finite successor: the caller must treat
	// this as an unbounded upper end by scanning to the end of idata.
	return nil
}
