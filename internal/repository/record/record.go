package record

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// InstallationRecord describes the single installation present on a host.
// Its absence on disk means "not installed".
type InstallationRecord struct {
	// Version is the installed application version.
	Version string `json:"version"`
	// InstallPath is the application root directory.
	InstallPath string `json:"install_path"`
	// DataPath is the user-data directory.
	DataPath string `json:"data_path"`
	// ConfigPath is the configuration directory.
	ConfigPath string `json:"config_path"`
	// InstalledAt is when the record was last written.
	InstalledAt time.Time `json:"installed_at"`
}

// Repository defines persistence operations for the installation record.
type Repository interface {
	Load(ctx context.Context) (*InstallationRecord, error)
	Save(ctx context.Context, rec *InstallationRecord) error
	Remove(ctx context.Context) error
}

// FileRepository persists the installation record to a JSON file on disk.
type FileRepository struct {
	// path is the filesystem location of the JSON record file.
	path string
	// mu protects concurrent access to the record file.
	mu sync.Mutex
}

// ErrNotFound is returned when no installation record exists.
var ErrNotFound = errors.New("installation record not found")

// recordFilePermissions keeps the record readable by the service account only.
const recordFilePermissions = 0o644

// NewFileRepository creates a repository that reads/writes JSON at the provided path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
	}
}

// Load reads the record from disk.
func (r *FileRepository) Load(_ context.Context) (*InstallationRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read installation record: %w", err)
	}

	var rec InstallationRecord
	if err = json.Unmarshal(contents, &rec); err != nil {
		return nil, fmt.Errorf("decode installation record: %w", err)
	}

	return &rec, nil
}

// Save writes the record to disk, creating the parent directory when needed.
func (r *FileRepository) Save(_ context.Context, rec *InstallationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec.InstalledAt.IsZero() {
		rec.InstalledAt = time.Now().UTC()
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode installation record: %w", err)
	}

	if err = os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create record directory: %w", err)
	}

	if err = os.WriteFile(r.path, data, recordFilePermissions); err != nil {
		return fmt.Errorf("write installation record: %w", err)
	}

	return nil
}

// Remove deletes the record. Removing an absent record is not an error:
// uninstall must be idempotent.
func (r *FileRepository) Remove(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.Remove(r.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove installation record: %w", err)
	}

	return nil
}
