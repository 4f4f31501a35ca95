package reconciler

import (
	"fmt"
	"strconv"
	"strings"
)

func isUnescaped(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') ||
		c == '-' || c == '_' || c == '.'
}

// EncodePath percent-escapes path into a stable key, leaving
// [A-Za-z0-9._-] unescaped (spec.md §4.7). It is the inverse of
// DecodePath.
func EncodePath(p string) string {
	var b strings.Builder
	for i := 0; i < len(p); i++ {
		c := p[i]
		if isUnescaped(c) {
			b.WriteByte(c)
		} else {
			fmt.Fprintf(&b, "%%%02x", c)
		}
	}
	return b.String()
}

// DecodePath reverses EncodePath. A trailing '%' or non-hex escape
// digits are reported as an error rather than silently truncated.
func DecodePath(key string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(key); i++ {
		c := key[i]
		if c != '%' {
			b.WriteByte(c)
			continue
		}
		if i+3 > len(key) {
			return "", fmt.Errorf("reconciler: truncated escape in %q", key)
		}
		n, err := strconv.ParseUint(key[i+1:i+3], 16, 8)
		if err != nil {
			return "", fmt.Errorf("reconciler: invalid escape %q: %w", key[i:i+3], err)
		}
		b.WriteByte(byte(n))
		i += 2
	}
	return b.String(), nil
}
