package metadata

import "strings"

// CleanFilename strips characters that are invalid in file names on at
// least one supported platform and truncates the result to 255 bytes on a
// rune boundary. With restrict set, anything outside printable ASCII is
// dropped as well.
func CleanFilename(name string, restrict bool) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r < 0x20, r == 0x7f:
			continue
		case strings.ContainsRune(`/\:*?"<>|`, r):
			continue
		case restrict && r > 0x7e:
			continue
		}
		b.WriteRune(r)
	}
	return TruncateBytes(strings.TrimSpace(b.String()), 255)
}

// TruncateBytes shortens s to at most n bytes without splitting a rune.
func TruncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && s[n]&0xc0 == 0x80 {
		n--
	}
	return s[:n]
}

// TruncateRunes shortens s to at most n runes. Used for the configurable
// path component limit.
func TruncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
