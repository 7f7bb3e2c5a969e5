// Package pack implements the order-preserving binary codec described in
// YogaTable's storage layer: every supported scalar type packs into a byte
// string whose lexicographic order matches the semantic order of the
// original values.
package pack

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Kind identifies the logical type carried by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindInt
	KindFloat
	KindDecimal
	KindBytes
	KindText
	KindDate
	KindDateTime
	KindTime
)

// Value is a single scalar the packer knows how to encode. Construct one
// with the Int/Float/Dec/... helpers rather than the struct literal.
type Value struct {
	kind Kind
	i    int64
	f    float64
	dec  decimal.Decimal
	b    []byte
	s    string
	t    time.Time
}

// Null returns the None value.
func Null() Value { return Value{kind: KindNull} }

// Int wraps a signed integer.
func Int(v int64) Value { return Value{kind: KindInt, i: v} }

// Float wraps an IEEE 754 double.
func Float(v float64) Value { return Value{kind: KindFloat, f: v} }

// Dec wraps an arbitrary-precision decimal.
func Dec(v decimal.Decimal) Value { return Value{kind: KindDecimal, dec: v} }

// Bytes wraps a raw byte string.
func Bytes(v []byte) Value {
	cp := make([]byte, len(v))
	copy(cp, v)
	return Value{kind: KindBytes, b: cp}
}

// Text wraps a UTF-8 text string.
func Text(v string) Value { return Value{kind: KindText, s: v} }

// Date wraps a naive (timezone-free) calendar date, encoded as the datetime
// at midnight.
func Date(year int, month time.Month, day int) Value {
	return Value{kind: KindDate, t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateFromTime wraps an existing time.Time as a Date, truncating the
// clock portion. t must carry time.UTC as its Location.
func DateFromTime(t time.Time) Value {
	return Value{kind: KindDate, t: time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())}
}

// DateTime wraps a naive datetime. v must carry time.UTC as its Location;
// anything else is rejected by Pack with ErrNaiveRequired.
func DateTime(v time.Time) Value { return Value{kind: KindDateTime, t: v} }

// TimeOfDay wraps a naive time-of-day, expressed as an offset since
// midnight. d must be within [0, 24h).
func TimeOfDay(d time.Duration) Value {
	return Value{kind: KindTime, t: time.Unix(0, 0).UTC().Add(d)}
}

// Kind reports the logical type of v.
func (v Value) Kind() Kind { return v.kind }

// Sentinel errors per spec §4.1.
var (
	ErrUnsupportedType = errors.New("pack: unsupported type")
	ErrNaiveRequired   = errors.New("pack: timezone-aware value requires a naive (UTC) time")
)

// Options controls per-column packing behavior.
type Options struct {
	// CaseInsensitive lowercases Text values before encoding. Ignored for
	// every Kind other than KindText.
	CaseInsensitive bool
	// Descending reverses the encoded order for this column.
	Descending bool
}
