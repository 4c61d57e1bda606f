package analysis

import "bytes"

var nonFiniteLiterals = [][]byte{
	[]byte("-Infinity"),
	[]byte("Infinity"),
	[]byte("NaN"),
}

// SanitizeNonFinite rewrites the bare NaN, Infinity and -Infinity tokens some JSON
// encoders emit into null so encoding/json accepts the document. Text inside string
// literals is left alone. The input is returned as is when nothing needs rewriting.
func SanitizeNonFinite(b []byte) []byte {
	if !bytes.Contains(b, []byte("NaN")) && !bytes.Contains(b, []byte("Infinity")) {
		return b
	}

	out := make([]byte, 0, len(b)+16)
	inString := false
	escaped := false
	for i := 0; i < len(b); i++ {
		ch := b[i]
		if inString {
			out = append(out, ch)
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		if ch == '"' {
			inString = true
			out = append(out, ch)
			continue
		}
		if n := literalAt(b, i); n > 0 {
			out = append(out, "null"...)
			i += n - 1
			continue
		}
		out = append(out, ch)
	}
	return out
}

func literalAt(b []byte, i int) int {
	for _, lit := range nonFiniteLiterals {
		if bytes.HasPrefix(b[i:], lit) && boundary(b, i-1) && boundary(b, i+len(lit)) {
			return len(lit)
		}
	}
	return 0
}

// boundary reports whether position i is outside b or holds a JSON delimiter/whitespace.
func boundary(b []byte, i int) bool {
	if i < 0 || i >= len(b) {
		return true
	}
	switch b[i] {
	case ',', ':', '[', ']', '{', '}', ' ', '\t', '\n', '\r':
		return true
	}
	return false
}
