package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// markerDocument is the JSON form of the installed version marker.
type markerDocument struct {
	Version string `json:"version"`
}

// ErrMarkerMissing is returned when the version marker file does not exist.
var ErrMarkerMissing = errors.New("version marker not found")

// errMarkerEmpty is returned when the marker exists but carries no version.
var errMarkerEmpty = errors.New("version marker is empty")

// ReadVersionMarker reads the installed version from the marker file.
// Early releases wrote a bare version string; later ones write a JSON
// object with a "version" field. Both forms are accepted.
func ReadVersionMarker(path string) (string, error) {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrMarkerMissing
		}

		return "", fmt.Errorf("read version marker: %w", err)
	}

	text := strings.TrimSpace(string(contents))
	if text == "" {
		return "", errMarkerEmpty
	}

	if strings.HasPrefix(text, "{") {
		var doc markerDocument
		if err = json.Unmarshal([]byte(text), &doc); err != nil {
			return "", fmt.Errorf("decode version marker: %w", err)
		}

		if doc.Version == "" {
			return "", errMarkerEmpty
		}

		return doc.Version, nil
	}

	// Bare string form: first token wins, trailing metadata is ignored.
	return strings.Fields(text)[0], nil
}

// WriteVersionMarker writes the JSON form of the marker.
func WriteVersionMarker(path, version string) error {
	data, err := json.Marshal(markerDocument{Version: version})
	if err != nil {
		return fmt.Errorf("encode version marker: %w", err)
	}

	if err = os.WriteFile(filepath.Clean(path), append(data, '\n'), recordFilePermissions); err != nil {
		return fmt.Errorf("write version marker: %w", err)
	}

	return nil
}
