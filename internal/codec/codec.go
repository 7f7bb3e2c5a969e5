// Package codec implements the JSON document encoding described in §6:
// documents are stored as JSON, with an extension that represents every
// non-JSON-native scalar as a single-key object ({"__datetime": "..."} and
// friends) so that encode/decode round-trips exactly. JSON numbers decode
// as int64 when they are integers and as float64 otherwise, so a float64
// field holding a whole number (which encoding/json writes without a
// fraction) comes back as int64.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Date, DateTime, TimeOfDay, and Duration are distinct Go types so the
// codec never has to guess a document field's intended logical type from
// its shape; pack.Value construction in internal/indexrow maps 1:1 from
// these. DateTime/Date must carry time.UTC - Encode rejects anything else
// with ErrNaiveRequired, matching internal/pack's own rule.
type Date time.Time
type DateTime time.Time
type TimeOfDay time.Duration
type Duration time.Duration

// Set marks a document field as a set rather than a list: both expand by
// cartesian product for indexing (§4.2), but encode under a different JSON
// wrapper key so Decode can tell them apart.
type Set []interface{}

// Decimal re-exports shopspring/decimal.Decimal so callers of this package
// don't need a second import for document field values.
type Decimal = decimal.Decimal

const (
	keyDateTime  = "__datetime"
	keyDate      = "__date"
	keyTime      = "__time"
	keyTimedelta = "__timedelta"
	keyDecimal   = "__decimal"
	keySet       = "__set"
)

var ErrNaiveRequired = fmt.Errorf("codec: datetime/date values must be UTC")

const dateLayout = "2006-01-02"
const timeLayout = "15:04:05.999999"
const dateTimeLayout = "2006-01-02T15:04:05.999999"

// Encode converts a document (as produced by callers of internal/store)
// into its JSON wire form.
func Encode(doc map[string]interface{}) ([]byte, error) {
	wire, err := encodeValue(doc)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wire)
}

// Decode parses a document previously produced by Encode.
func Decode(data []byte) (map[string]interface{}, error) {
	var raw interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	decoded := decodeValue(raw)
	m, ok := decoded.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("codec: top-level document must be an object")
	}
	return m, nil
}

func encodeValue(v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case nil, bool, string, int, int32, int64, float32, float64:
		return x, nil
	case DateTime:
		t := time.Time(x)
		if t.Location() != time.UTC {
			return nil, ErrNaiveRequired
		}
		return map[string]interface{}{keyDateTime: t.Format(dateTimeLayout)}, nil
	case Date:
		t := time.Time(x)
		if t.Location() != time.UTC {
			return nil, ErrNaiveRequired
		}
		return map[string]interface{}{keyDate: t.Format(dateLayout)}, nil
	case TimeOfDay:
		return map[string]interface{}{keyTime: durationToClock(time.Duration(x))}, nil
	case Duration:
		return map[string]interface{}{keyTimedelta: time.Duration(x).String()}, nil
	case Decimal:
		return map[string]interface{}{keyDecimal: x.String()}, nil
	case Set:
		items := make([]interface{}, len(x))
		for i, item := range x {
			enc, err := encodeValue(item)
			if err != nil {
				return nil, err
			}
			items[i] = enc
		}
		return map[string]interface{}{keySet: items}, nil
	case []interface{}:
		items := make([]interface{}, len(x))
		for i, item := range x {
			enc, err := encodeValue(item)
			if err != nil {
				return nil, err
			}
			items[i] = enc
		}
		return items, nil
	case map[string]interface{}:
		out := make(map[string]interface{}, len(x))
		for k, val := range x {
			enc, err := encodeValue(val)
			if err != nil {
				return nil, err
			}
			out[k] = enc
		}
		return out, nil
	default:
		return nil, fmt.Errorf("codec: unsupported document field type %T", v)
	}
}

func decodeValue(v interface{}) interface{} {
	switch x := v.(type) {
	case map[string]interface{}:
		if len(x) == 1 {
			for key, payload := range x {
				if special, ok := decodeSpecial(key, payload); ok {
					return special
				}
			}
		}
		out := make(map[string]interface{}, len(x))
		for k, val := range x {
			out[k] = decodeValue(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, item := range x {
			out[i] = decodeValue(item)
		}
		return out
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		f, _ := x.Float64()
		return f
	default:
		return x
	}
}

func decodeSpecial(key string, payload interface{}) (interface{}, bool) {
	switch key {
	case keyDateTime:
		s, ok := payload.(string)
		if !ok {
			return nil, false
		}
		t, err := time.ParseInLocation(dateTimeLayout, s, time.UTC)
		if err != nil {
			return nil, false
		}
		return DateTime(t), true
	case keyDate:
		s, ok := payload.(string)
		if !ok {
			return nil, false
		}
		t, err := time.ParseInLocation(dateLayout, s, time.UTC)
		if err != nil {
			return nil, false
		}
		return Date(t), true
	case keyTime:
		s, ok := payload.(string)
		if !ok {
			return nil, false
		}
		d, err := clockToDuration(s)
		if err != nil {
			return nil, false
		}
		return TimeOfDay(d), true
	case keyTimedelta:
		s, ok := payload.(string)
		if !ok {
			return nil, false
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, false
		}
		return Duration(d), true
	case keyDecimal:
		s, ok := payload.(string)
		if !ok {
			return nil, false
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return nil, false
		}
		return Decimal(d), true
	case keySet:
		items, ok := payload.([]interface{})
		if !ok {
			return nil, false
		}
		out := make(Set, len(items))
		for i, item := range items {
			out[i] = decodeValue(item)
		}
		return out, true
	default:
		return nil, false
	}
}

func durationToClock(d time.Duration) string {
	base := time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC).Add(d)
	return base.Format(timeLayout)
}

func clockToDuration(s string) (time.Duration, error) {
	t, err := time.ParseInLocation(timeLayout, s, time.UTC)
	if err != nil {
		return 0, err
	}
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return t.Sub(midnight), nil
}
