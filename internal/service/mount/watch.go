package mount

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/hsparc-project/hsparc-deploy/internal/logger"
)

// devDir is where the kernel exposes block device nodes.
const devDir = "/dev"

// settleDelay gives the kernel a moment to finish setting up a freshly
// appeared partition node before probing it.
const settleDelay = 500 * time.Millisecond

// partitionNodePattern matches partition device nodes for USB sticks and
// SD cards (sdb1, mmcblk0p1) while ignoring whole-disk nodes and the rest
// of /dev.
var partitionNodePattern = regexp.MustCompile(`^/dev/(sd[a-z]+[0-9]+|mmcblk[0-9]+p[0-9]+)$`)

// Watch drives the add/remove entry points from filesystem events on /dev.
// It is an alternative to udev rules for sessions where installing rules is
// not possible, and blocks until the context is canceled.
func (m *Manager) Watch(ctx context.Context) error {
	ctx = logger.WithName(ctx, "mount-watch")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	defer func() {
		_ = watcher.Close()
	}()

	if err = watcher.Add(devDir); err != nil {
		return fmt.Errorf("watch %s: %w", devDir, err)
	}

	logger.InfoKV(ctx, "Watching for removable devices", "dir", devDir)

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "Watcher stopped")
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if !partitionNodePattern.MatchString(event.Name) {
				continue
			}

			switch {
			case event.Op.Has(fsnotify.Create):
				logger.InfoKV(ctx, "Partition node appeared", "device", event.Name)
				time.Sleep(settleDelay)
				m.OnDeviceAdd(ctx, event.Name, "")
			case event.Op.Has(fsnotify.Remove):
				logger.InfoKV(ctx, "Partition node vanished", "device", event.Name)
				m.OnDeviceRemove(ctx, event.Name)
			}
		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			// Watcher errors are logged like any other mount failure;
			// the event pipeline keeps running.
			logger.ErrorKV(ctx, "Watcher error", "error", watchErr)
		}
	}
}
