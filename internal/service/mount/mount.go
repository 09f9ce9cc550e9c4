package mount

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hsparc-project/hsparc-deploy/internal/config"
	"github.com/hsparc-project/hsparc-deploy/internal/logger"
	"github.com/hsparc-project/hsparc-deploy/internal/service/common"
)

// MountEntry describes one live mount under the per-user media base.
type MountEntry struct {
	// DevicePath is the block device node.
	DevicePath string
	// MountPoint is where the volume is mounted.
	MountPoint string
	// FilesystemType is the kernel's filesystem name.
	FilesystemType string
}

// procMountsPath is where the kernel lists active mounts.
const procMountsPath = "/proc/self/mounts"

// Manager mounts and unmounts removable volumes under a per-user namespace.
// Every failure is logged and swallowed: a failed mount must never block the
// device-event pipeline that triggered it.
type Manager struct {
	cfg *config.Config

	// mountsPath is swapped in tests for a synthetic mounts table.
	mountsPath string
	// runCommand executes mount/umount/blkid; swapped in tests.
	runCommand func(ctx context.Context, name string, args ...string) error
	// probeValue queries blkid for a device property; swapped in tests.
	probeValue func(ctx context.Context, devicePath, field string) string
}

// NewManager returns a mount manager for the provided configuration.
func NewManager(cfg *config.Config) *Manager {
	return &Manager{
		cfg:        cfg,
		mountsPath: procMountsPath,
		runCommand: func(ctx context.Context, name string, args ...string) error {
			return common.RunCommand(ctx, "", name, args...)
		},
		probeValue: probeWithBlkid,
	}
}

// UserBase is the directory under which this manager mounts volumes.
// It is exclusively owned by this subsystem.
func (m *Manager) UserBase() string {
	return filepath.Join(m.cfg.MediaBase, m.cfg.ServiceUser)
}

// OnDeviceAdd handles a hot-plug insert event: probe the filesystem,
// sanitize the label, create the mount point and mount with
// filesystem-appropriate options.
func (m *Manager) OnDeviceAdd(ctx context.Context, devicePath, labelHint string) {
	ctx = logger.WithName(ctx, "mount")

	fsType := m.probeValue(ctx, devicePath, "TYPE")
	if fsType == "" {
		fsType = "auto"
	}

	label := labelHint
	if label == "" {
		label = m.probeValue(ctx, devicePath, "LABEL")
	}

	label = SanitizeLabel(label)
	mountPoint := filepath.Join(m.UserBase(), label)

	// A live mount under the same label must not be silently overwritten.
	if m.isMounted(mountPoint) {
		logger.WarnKV(ctx, "Mount point already in use, refusing to overwrite",
			"device", devicePath, "mount_point", mountPoint)

		return
	}

	if err := os.MkdirAll(mountPoint, 0o755); err != nil {
		logger.ErrorKV(ctx, "Mount point creation failed",
			"mount_point", mountPoint, "error", err)

		return
	}

	if err := m.mountDevice(ctx, devicePath, mountPoint, fsType); err != nil {
		logger.ErrorKV(ctx, "Mount failed",
			"device", devicePath, "mount_point", mountPoint, "fs_type", fsType, "error", err)

		// Leave no empty directory behind a failed mount.
		_ = os.Remove(mountPoint)

		return
	}

	logger.InfoKV(ctx, "Volume mounted",
		"device", devicePath, "mount_point", mountPoint, "fs_type", fsType, "label", label)
}

// mountDevice runs the actual mount. FAT-family and NTFS filesystems carry
// no POSIX ownership, so the service account is set via mount options; other
// filesystems get a plain mount and a best-effort chown of the root.
func (m *Manager) mountDevice(ctx context.Context, devicePath, mountPoint, fsType string) error {
	switch strings.ToLower(fsType) {
	case "vfat", "fat", "fat32", "msdos", "exfat", "ntfs", "ntfs3":
		args := []string{"-t", fsType}

		if uid, gid, err := common.LookupUser(m.cfg.ServiceUser); err == nil {
			args = append(args, "-o",
				fmt.Sprintf("uid=%s,gid=%s,umask=002",
					strconv.Itoa(uid), strconv.Itoa(gid)))
		}

		args = append(args, devicePath, mountPoint)

		return m.runCommand(ctx, "mount", args...)
	default:
		if err := m.runCommand(ctx, "mount", devicePath, mountPoint); err != nil {
			return err
		}

		common.ChownRecursive(ctx, mountPoint, m.cfg.ServiceUser)

		return nil
	}
}

// OnDeviceRemove handles a hot-plug removal: every mount still active under
// the per-user base is unmounted and its directory removed. Scanning the
// whole base instead of tracking device-to-mount-point state tolerates
// missing state after a crash or manual intervention; the base directory is
// exclusively ours, so stale entries are fair game. Calling this twice is a
// no-op the second time.
func (m *Manager) OnDeviceRemove(ctx context.Context, devicePath string) {
	ctx = logger.WithName(ctx, "mount")

	entries, err := m.mountedUnderBase()
	if err != nil {
		logger.ErrorKV(ctx, "Cannot read mount table", "error", err)
		return
	}

	if len(entries) == 0 {
		logger.DebugKV(ctx, "Nothing mounted under media base",
			"device", devicePath, "base", m.UserBase())

		return
	}

	for _, entry := range entries {
		m.unmountEntry(ctx, entry)
	}
}

// unmountEntry unmounts one volume, falling back to a lazy unmount when the
// device is busy, then removes the empty mount-point directory.
func (m *Manager) unmountEntry(ctx context.Context, entry MountEntry) {
	if err := m.runCommand(ctx, "umount", entry.MountPoint); err != nil {
		logger.WarnKV(ctx, "Unmount failed, retrying lazily",
			"mount_point", entry.MountPoint, "error", err)

		if err = m.runCommand(ctx, "umount", "-l", entry.MountPoint); err != nil {
			logger.ErrorKV(ctx, "Lazy unmount failed",
				"mount_point", entry.MountPoint, "error", err)

			return
		}
	}

	if err := os.Remove(entry.MountPoint); err != nil && !os.IsNotExist(err) {
		logger.WarnKV(ctx, "Mount point directory not removed",
			"mount_point", entry.MountPoint, "error", err)
	}

	logger.InfoKV(ctx, "Volume unmounted",
		"device", entry.DevicePath, "mount_point", entry.MountPoint)
}

// isMounted reports whether the path is an active mount point.
func (m *Manager) isMounted(path string) bool {
	entries, err := m.parseMountsFile()
	if err != nil {
		return false
	}

	for _, entry := range entries {
		if entry.MountPoint == path {
			return true
		}
	}

	return false
}

// mountedUnderBase filters the mount table to entries under the user base.
func (m *Manager) mountedUnderBase() ([]MountEntry, error) {
	entries, err := m.parseMountsFile()
	if err != nil {
		return nil, err
	}

	prefix := m.UserBase() + string(filepath.Separator)

	var under []MountEntry

	for _, entry := range entries {
		if strings.HasPrefix(entry.MountPoint, prefix) {
			under = append(under, entry)
		}
	}

	return under, nil
}

// parseMountsFile reads the kernel mount table.
func (m *Manager) parseMountsFile() ([]MountEntry, error) {
	f, err := os.Open(m.mountsPath)
	if err != nil {
		return nil, fmt.Errorf("open mounts table: %w", err)
	}

	defer func() {
		_ = f.Close()
	}()

	return parseMounts(f)
}

// parseMounts decodes /proc/self/mounts lines. Paths with spaces arrive
// octal-escaped (\040) and are unescaped here.
func parseMounts(r io.Reader) ([]MountEntry, error) {
	var entries []MountEntry

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}

		entries = append(entries, MountEntry{
			DevicePath:     unescapeMountPath(fields[0]),
			MountPoint:     unescapeMountPath(fields[1]),
			FilesystemType: fields[2],
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan mounts table: %w", err)
	}

	return entries, nil
}

// unescapeMountPath decodes the kernel's octal escapes in mount paths.
func unescapeMountPath(path string) string {
	if !strings.Contains(path, "\\") {
		return path
	}

	var b strings.Builder

	for i := 0; i < len(path); i++ {
		if path[i] == '\\' && i+3 < len(path) {
			if code, err := strconv.ParseUint(path[i+1:i+4], 8, 8); err == nil {
				b.WriteByte(byte(code))
				i += 3

				continue
			}
		}

		b.WriteByte(path[i])
	}

	return b.String()
}

// probeWithBlkid queries a single blkid field for a device.
func probeWithBlkid(ctx context.Context, devicePath, field string) string {
	out, err := exec.CommandContext(ctx, "blkid", "-o", "value", "-s", field, devicePath).Output()
	if err != nil {
		return ""
	}

	return strings.TrimSpace(string(out))
}
