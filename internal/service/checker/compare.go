package checker

import (
	"strconv"
	"strings"
)

// Sanitize strips every character outside digits and dots from a version
// string. Tags like a leading "v" or a "-beta" suffix disappear. An empty
// result is treated as version "0".
func Sanitize(v string) string {
	var b strings.Builder

	for _, r := range v {
		if (r >= '0' && r <= '9') || r == '.' {
			b.WriteRune(r)
		}
	}

	out := b.String()
	if strings.Trim(out, ".") == "" {
		return "0"
	}

	return out
}

// Compare orders two version strings numerically per dot segment, not
// lexicographically, so "1.0.10" sorts after "1.0.9". It returns -1, 0 or 1.
func Compare(a, b string) int {
	segmentsA := segments(Sanitize(a))
	segmentsB := segments(Sanitize(b))

	length := len(segmentsA)
	if len(segmentsB) > length {
		length = len(segmentsB)
	}

	for i := 0; i < length; i++ {
		var numA, numB int

		if i < len(segmentsA) {
			numA = segmentsA[i]
		}

		if i < len(segmentsB) {
			numB = segmentsB[i]
		}

		switch {
		case numA < numB:
			return -1
		case numA > numB:
			return 1
		}
	}

	return 0
}

// segments splits a sanitized version into numeric parts. Empty segments
// (doubled or leading dots) count as zero.
func segments(v string) []int {
	parts := strings.Split(v, ".")
	out := make([]int, 0, len(parts))

	for _, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil {
			n = 0
		}

		out = append(out, n)
	}

	return out
}
