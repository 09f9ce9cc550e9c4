package mount

// DefaultLabel is used when a device label sanitizes to nothing.
const DefaultLabel = "USB"

// maxLabelLength caps sanitized labels to keep mount points short.
const maxLabelLength = 32

// SanitizeLabel reduces a volume label to characters safe for a mount-point
// directory name: alphanumerics plus "._-", truncated to 32 characters.
// Anything else, including spaces, is dropped. An empty result falls back
// to DefaultLabel.
func SanitizeLabel(label string) string {
	out := make([]rune, 0, len(label))

	for _, r := range label {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.', r == '_', r == '-':
		default:
			continue
		}

		out = append(out, r)

		if len(out) == maxLabelLength {
			break
		}
	}

	if len(out) == 0 {
		return DefaultLabel
	}

	return string(out)
}
