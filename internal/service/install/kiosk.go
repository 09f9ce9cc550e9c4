package install

import (
	"context"
	"os"
	"strings"

	"github.com/hsparc-project/hsparc-deploy/internal/config"
	"github.com/hsparc-project/hsparc-deploy/internal/logger"
)

// gdmConfigPath is where GDM keeps the auto-login setting on Debian-family
// hosts running the kiosk session.
const gdmConfigPath = "/etc/gdm3/custom.conf"

// warnIfKioskDegraded flags a disabled auto-login to the operator when the
// configuration expects kiosk mode. It never reasserts the setting: an
// administrator may have disabled kiosk mode deliberately.
func warnIfKioskDegraded(ctx context.Context, cfg *config.Config) {
	if !cfg.KioskMode {
		return
	}

	contents, err := os.ReadFile(gdmConfigPath)
	if err != nil {
		// Not a GDM host or not readable; nothing to assess.
		return
	}

	if !autoLoginEnabled(string(contents)) {
		logger.WarnKV(ctx, "Kiosk mode is configured but auto-login is disabled on this host",
			"config", gdmConfigPath,
			"hint", "re-enable AutomaticLoginEnable manually if the kiosk session should return")
	}
}

// autoLoginEnabled scans a GDM configuration for an enabled automatic login.
func autoLoginEnabled(contents string) bool {
	for _, line := range strings.Split(contents, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") {
			continue
		}

		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}

		if strings.TrimSpace(key) == "AutomaticLoginEnable" &&
			strings.EqualFold(strings.TrimSpace(value), "true") {
			return true
		}
	}

	return false
}
