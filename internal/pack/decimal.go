package pack

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// packDecimal implements §4.1's decimal encoding: a sign tag ('p' or 'n'),
// a 2-byte biased exponent position, and the significant digits packed two
// per byte as (digit+1) nibbles (nibble 0 is reserved as an implicit "no
// more digits" pad, which is mathematically equivalent to an infinite
// trailing-zero expansion), terminated by 0x00.
//
// For negative values the magnitude is encoded exactly as if positive and
// then every payload byte after the tag is complemented (XOR 0xFF) - the
// bitwise analogue of the ten's-complement the spec describes, and the
// same operation Options.Descending applies elsewhere in this package.
func packDecimal(d decimal.Decimal) ([]byte, error) {
	coeff := d.Coefficient()
	exp := int(d.Exponent())
	neg := coeff.Sign() < 0

	abs := new(big.Int).Abs(coeff)
	digits := abs.String()
	if digits == "0" {
		digits = ""
	}
	// Strip trailing zero digits, compensating the exponent so the value
	// is unchanged; this makes 1.50 and 1.5 pack identically.
	for len(digits) > 0 && digits[len(digits)-1] == '0' {
		digits = digits[:len(digits)-1]
		exp++
	}

	if digits == "" {
		// Zero has no magnitude, so a position-biased encoding can't
		// place it below every positive (some have arbitrarily negative
		// positions, e.g. 0.0000001). It gets its own tag, ordered
		// strictly between tagDecNeg and tagDecPos, with an empty body.
		return []byte{tagDecZero}, nil
	}

	position := exp + len(digits)
	if position < -32768 || position > 32767 {
		return nil, ErrUnsupportedType
	}
	bias := uint16(32768 + position)

	body := make([]byte, 0, 2+len(digits)/2+2)
	body = append(body, byte(bias>>8), byte(bias))
	for i := 0; i < len(digits); i += 2 {
		hi := digits[i] - '0' + 1
		var lo byte
		if i+1 < len(digits) {
			lo = digits[i+1] - '0' + 1
		}
		body = append(body, hi<<4|lo)
	}
	body = append(body, 0x00)

	tag := byte(tagDecPos)
	if neg {
		tag = tagDecNeg
		for i := range body {
			body[i] ^= 0xFF
		}
	}

	out := make([]byte, 0, len(body)+1)
	out = append(out, tag)
	out = append(out, body...)
	return out, nil
}
