package checker

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestCompareNumericOrdering checks dot-segment-wise numeric ordering.
func TestCompareNumericOrdering(t *testing.T) {
	t.Parallel()

	require.Equal(t, -1, Compare("1.0.9", "1.0.10"))
	require.Equal(t, -1, Compare("1.0.10", "1.1.0"))
	require.Equal(t, 1, Compare("1.1.0", "1.0.10"))
	require.Equal(t, 0, Compare("1.0.7", "1.0.7"))

	// Shorter versions compare as if padded with zeros.
	require.Equal(t, 0, Compare("1.0", "1.0.0"))
	require.Equal(t, -1, Compare("1.0", "1.0.1"))
}

// TestCompareIgnoresNonNumericCharacters strips suffixes and prefixes.
func TestCompareIgnoresNonNumericCharacters(t *testing.T) {
	t.Parallel()

	require.Equal(t, 0, Compare("v1.0.7", "1.0.7"))
	require.Equal(t, -1, Compare("1.0.7-beta", "1.0.8"))

	// Fully non-numeric input degrades to version zero.
	require.Equal(t, -1, Compare("unknown", "0.0.1"))
	require.Equal(t, 0, Compare("unknown", "0"))
}

// TestSanitize covers the stripping rules directly.
func TestSanitize(t *testing.T) {
	t.Parallel()

	require.Equal(t, "1.0.7", Sanitize("v1.0.7"))
	require.Equal(t, "1.2.3", Sanitize("release-1.2.3"))
	require.Equal(t, "0", Sanitize(""))
	require.Equal(t, "0", Sanitize("unknown"))
	require.Equal(t, "0", Sanitize("..."))
}
