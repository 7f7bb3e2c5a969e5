package pack

import (
	"math"
	"strings"
	"time"
)

// Type tags. The tag byte is never flipped by Options.Descending -
// descending order is expressed by swapping comparison operators at the
// query layer (see internal/query) and by flipping the payload bytes that
// follow the tag.
const (
	tagNullAsc  = 'a'
	tagInt      = 'i'
	tagFloat    = 'f'
	tagDecPos   = 'p'
	tagDecZero  = 'o'
	tagDecNeg   = 'n'
	tagBytes    = 'd'
	tagDateTime = 't'
	tagTime     = 's'
	tagNullDesc = 'z'
)

// Pack encodes v according to opts. For a fixed Options, Pack preserves the
// semantic order of same-kind values and distinguishes different kinds by
// their leading tag byte.
func Pack(v Value, opts Options) ([]byte, error) {
	var out []byte
	var err error

	switch v.kind {
	case KindNull:
		if opts.Descending {
			return []byte{tagNullDesc}, nil
		}
		return []byte{tagNullAsc}, nil
	case KindInt:
		out, err = packInt(v.i)
	case KindFloat:
		out, err = packFloat(v.f)
	case KindDecimal:
		out, err = packDecimal(v.dec)
	case KindBytes:
		out, err = packBytesLike(v.b)
	case KindText:
		s := v.s
		if opts.CaseInsensitive {
			s = strings.ToLower(s)
		}
		out, err = packText(s)
	case KindDate, KindDateTime:
		if v.t.Location() != UTCLocation() {
			return nil, ErrNaiveRequired
		}
		micros := v.t.Unix()*1_000_000 + int64(v.t.Nanosecond())/1000
		out, err = packTagged(tagDateTime, micros)
	case KindTime:
		if v.t.Location() != UTCLocation() {
			return nil, ErrNaiveRequired
		}
		midnight := time.Date(v.t.Year(), v.t.Month(), v.t.Day(), 0, 0, 0, 0, v.t.Location())
		micros := v.t.Sub(midnight).Microseconds()
		out, err = packTagged(tagTime, micros)
	default:
		return nil, ErrUnsupportedType
	}
	if err != nil {
		return nil, err
	}
	if opts.Descending {
		negatePayload(out)
	}
	return out, nil
}

// PackAll packs a sequence of columns and concatenates the results,
// matching pack([a,b,c]) == pack(a) || pack(b) || pack(c).
func PackAll(values []Value, opts []Options) ([]byte, error) {
	var out []byte
	for i, v := range values {
		o := Options{}
		if i < len(opts) {
			o = opts[i]
		}
		b, err := Pack(v, o)
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

// negatePayload XORs every byte after the tag (payload[0]) by 0xFF in
// place, implementing Options.Descending for the tag/payload encodings.
func negatePayload(buf []byte) {
	for i := 1; i < len(buf); i++ {
		buf[i] ^= 0xFF
	}
}

func packTagged(tag byte, magnitude int64) ([]byte, error) {
	body, err := packIntMagnitude(magnitude)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(body)+1)
	out = append(out, tag)
	out = append(out, body...)
	return out, nil
}

func packInt(v int64) ([]byte, error) {
	body, err := packIntMagnitude(v)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(body)+1)
	out = append(out, tagInt)
	out = append(out, body...)
	return out, nil
}

// packIntMagnitude implements §4.1's integer encoding: a sign+length byte
// followed by the minimal big-endian magnitude. Positive: 127+n. Negative:
// 128-n with magnitude bytes XORed by 0xFF so that more-negative numbers of
// equal byte-length sort lower, and the sign+length byte orders negatives
// before positives and longer negatives before shorter ones.
func packIntMagnitude(v int64) ([]byte, error) {
	if v >= 0 {
		mag := minimalBigEndian(uint64(v))
		if len(mag) == 0 {
			// Zero needs an explicit magnitude byte: a bare sign byte
			// (127+0) equals the sign byte of every one-byte negative
			// (128-1) and would be a prefix of their encodings,
			// breaking pack(-1) < pack(0).
			mag = []byte{0}
		}
		n := len(mag)
		if n > 8 {
			return nil, ErrUnsupportedType
		}
		out := make([]byte, 0, n+1)
		out = append(out, byte(127+n))
		out = append(out, mag...)
		return out, nil
	}
	// two's complement magnitude of a negative int64 fits in uint64 via negation,
	// guarding the int64 min edge case explicitly.
	var uv uint64
	if v == math.MinInt64 {
		uv = uint64(math.MaxInt64) + 1
	} else {
		uv = uint64(-v)
	}
	mag := minimalBigEndian(uv)
	n := len(mag)
	if n > 8 {
		return nil, ErrUnsupportedType
	}
	for i := range mag {
		mag[i] ^= 0xFF
	}
	out := make([]byte, 0, n+1)
	out = append(out, byte(128-n))
	out = append(out, mag...)
	return out, nil
}

func minimalBigEndian(v uint64) []byte {
	if v == 0 {
		return nil
	}
	var buf [8]byte
	for i := 7; i >= 0; i-- {
		buf[i] = byte(v)
		v >>= 8
	}
	i := 0
	for i < 8 && buf[i] == 0 {
		i++
	}
	out := make([]byte, 8-i)
	copy(out, buf[i:])
	return out
}

// packFloat implements §4.1's IEEE-754 total order encoding.
func packFloat(v float64) ([]byte, error) {
	bits := math.Float64bits(v)
	if bits&(1<<63) == 0 {
		bits |= 1 << 63
	} else {
		bits = ^bits
	}
	out := make([]byte, 9)
	out[0] = tagFloat
	for i := 7; i >= 0; i-- {
		out[1+i] = byte(bits)
		bits >>= 8
	}
	return out, nil
}

func UTCLocation() *time.Location { return time.UTC }
