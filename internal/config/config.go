package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds deployment parameters shared by the hsparc binaries.
type Config struct {
	// ServiceUser is the account that owns the installation and runs the application.
	ServiceUser string `yaml:"service_user"`
	// InstallRoot is the directory holding the application tree.
	InstallRoot string `yaml:"install_root"`
	// DataDir is the user-data directory preserved across installs and backed up first.
	DataDir string `yaml:"data_dir"`
	// ConfigDir holds the installation record and this file by default.
	ConfigDir string `yaml:"config_dir"`
	// BackupRoot is the directory where backups are created.
	BackupRoot string `yaml:"backup_root"`
	// PersistentSubtree is the name of the directory inside InstallRoot that
	// survives updates (the virtual environment). It is moved aside during a
	// file swap and moved back, never deleted or regenerated implicitly.
	PersistentSubtree string `yaml:"persistent_subtree"`
	// MediaBase is the directory under which removable volumes are mounted.
	MediaBase string `yaml:"media_base"`
	// EntryPoint is the executable, relative to InstallRoot, whose presence
	// after an install signals success.
	EntryPoint string `yaml:"entry_point"`
	// VersionMarker is the version file, relative to InstallRoot.
	VersionMarker string `yaml:"version_marker"`
	// ManifestURL points at the release manifest (http(s) URL or local path).
	ManifestURL string `yaml:"manifest_url"`
	// ServiceName is the systemd unit to stop/start around mutations.
	// Empty disables systemctl handling.
	ServiceName string `yaml:"service_name"`
	// ProcessNames are executable names terminated best-effort before a mutation.
	ProcessNames []string `yaml:"process_names"`
	// DependencyFile, relative to InstallRoot, declares the dependency set.
	// The refresh step runs only when its checksum changes between versions.
	DependencyFile string `yaml:"dependency_file"`
	// DependencyCommand re-resolves dependencies into the persistent subtree.
	// It runs with InstallRoot as working directory.
	DependencyCommand []string `yaml:"dependency_command"`
	// BackupRetention caps how many routine update backups are kept.
	// Manual and pre-uninstall backups are never pruned.
	BackupRetention int `yaml:"backup_retention"`
	// Timeout bounds network fetches and external commands.
	Timeout time.Duration `yaml:"timeout"`
	// KioskMode records the operator's intent to run a locked-down session.
	// The tool warns when the host disagrees; it never reasserts auto-login.
	KioskMode bool `yaml:"kiosk_mode"`
}

const (
	// DefaultConfigPath is where settings live unless overridden.
	DefaultConfigPath = "/etc/hsparc/deploy.yaml"

	// DefaultEnvFile is loaded before environment overrides are applied.
	DefaultEnvFile = "/etc/hsparc/hsparc.env"

	// DefaultBackupRetention is how many routine update backups survive pruning.
	DefaultBackupRetention = 3

	// DefaultTimeout bounds network fetches and external commands.
	DefaultTimeout = 60 * time.Second

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errInstallRootRequired is returned when the install root is missing.
	errInstallRootRequired = errors.New("install root must be provided")
	// errBadPersistentSubtree is returned when the persistent subtree is not a bare name.
	errBadPersistentSubtree = errors.New("persistent subtree must be a bare directory name")
	// errBadRetention is returned for non-positive retention caps.
	errBadRetention = errors.New("backup retention must be at least 1")
)

// Default returns a configuration populated with documented defaults.
func Default() *Config {
	return &Config{
		ServiceUser:       "hsparc",
		InstallRoot:       "/opt/hsparc",
		DataDir:           "/var/lib/hsparc",
		ConfigDir:         "/etc/hsparc",
		BackupRoot:        "/var/backups/hsparc",
		PersistentSubtree: "venv",
		MediaBase:         "/media",
		EntryPoint:        "hsparc",
		VersionMarker:     "VERSION",
		ManifestURL:       "https://updates.hsparc.org/manifest.json",
		ServiceName:       "hsparc",
		ProcessNames:      []string{"hsparc"},
		DependencyFile:    "requirements.txt",
		DependencyCommand: []string{"venv/bin/pip", "install", "-r", "requirements.txt"},
		BackupRetention:   DefaultBackupRetention,
		Timeout:           DefaultTimeout,
	}
}

// Load reads configuration from the provided path, layers environment
// overrides on top and validates essential fields. A missing file is not an
// error: defaults apply, so the tool works on a host that was never
// configured explicitly.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigPath
	}

	cfg := Default()

	contents, err := os.ReadFile(filepath.Clean(path))

	switch {
	case err == nil:
		if err = yaml.Unmarshal(contents, cfg); err != nil {
			return nil, fmt.Errorf("unmarshal settings: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
		// Defaults apply.
	default:
		return nil, fmt.Errorf("read settings: %w", err)
	}

	applyEnvOverrides(cfg)

	if err = Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the configuration to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks the provided settings for required fields and formatting.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if cfg.InstallRoot == "" {
		return errInstallRootRequired
	}

	if cfg.PersistentSubtree != filepath.Base(cfg.PersistentSubtree) {
		return fmt.Errorf("%w: %q", errBadPersistentSubtree, cfg.PersistentSubtree)
	}

	if cfg.BackupRetention < 1 {
		return fmt.Errorf("%w: %d", errBadRetention, cfg.BackupRetention)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	if cfg.VersionMarker == "" {
		cfg.VersionMarker = "VERSION"
	}

	if isRemote(cfg.ManifestURL) {
		if _, err := url.ParseRequestURI(cfg.ManifestURL); err != nil {
			return fmt.Errorf("invalid manifest URL: %w", err)
		}
	}

	return nil
}

// MarkerPath returns the absolute path of the installed version marker.
func (c *Config) MarkerPath() string {
	return filepath.Join(c.InstallRoot, c.VersionMarker)
}

// EntryPointPath returns the absolute path of the entry-point executable.
func (c *Config) EntryPointPath() string {
	return filepath.Join(c.InstallRoot, c.EntryPoint)
}

// RecordPath returns the absolute path of the installation record.
func (c *Config) RecordPath() string {
	return filepath.Join(c.ConfigDir, "installation.json")
}

// applyEnvOverrides loads the env file, if any, and overlays HSPARC_*
// variables onto the configuration. godotenv never clobbers variables
// already present in the environment, so the process environment wins.
func applyEnvOverrides(cfg *Config) {
	envFile := os.Getenv("HSPARC_ENV_FILE")
	if envFile == "" {
		envFile = DefaultEnvFile
	}

	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	overlayString := func(key string, target *string) {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			*target = value
		}
	}

	overlayString("HSPARC_SERVICE_USER", &cfg.ServiceUser)
	overlayString("HSPARC_INSTALL_ROOT", &cfg.InstallRoot)
	overlayString("HSPARC_DATA_DIR", &cfg.DataDir)
	overlayString("HSPARC_CONFIG_DIR", &cfg.ConfigDir)
	overlayString("HSPARC_BACKUP_ROOT", &cfg.BackupRoot)
	overlayString("HSPARC_PERSISTENT_SUBTREE", &cfg.PersistentSubtree)
	overlayString("HSPARC_MEDIA_BASE", &cfg.MediaBase)
	overlayString("HSPARC_MANIFEST_URL", &cfg.ManifestURL)
	overlayString("HSPARC_SERVICE_NAME", &cfg.ServiceName)

	if value := os.Getenv("HSPARC_BACKUP_RETENTION"); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			cfg.BackupRetention = n
		}
	}

	if value := os.Getenv("HSPARC_KIOSK_MODE"); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			cfg.KioskMode = b
		}
	}
}

// isRemote reports whether the source is fetched over HTTP rather than
// read from the local filesystem.
func isRemote(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

// IsRemoteSource is the exported form used by services that accept either
// URLs or local paths.
func IsRemoteSource(source string) bool {
	return isRemote(source)
}
