package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	appDir   = "pwsw"
	fileName = "config.toml"
)

// ResolvePath picks the rule document: --config (a leading "~/" expands to $HOME), then
// $XDG_CONFIG_HOME/pwsw/config.toml, then ~/.config/pwsw/config.toml. A relative
// XDG_CONFIG_HOME is ignored. The file need not exist; init-config and Save create it.
func ResolvePath(explicit string) (string, error) {
	explicit = strings.TrimSpace(explicit)
	if explicit != "" && !strings.HasPrefix(explicit, "~/") {
		return explicit, nil
	}

	home, homeErr := os.UserHomeDir()
	if rest, ok := strings.CutPrefix(explicit, "~/"); ok {
		if homeErr != nil {
			return "", fmt.Errorf("expand %q: %w", explicit, homeErr)
		}
		return filepath.Join(home, rest), nil
	}

	if xdg := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); filepath.IsAbs(xdg) {
		return filepath.Join(xdg, appDir, fileName), nil
	}

	if homeErr != nil {
		return "", fmt.Errorf("resolve config path: no --config, XDG_CONFIG_HOME, or home directory: %w", homeErr)
	}
	return filepath.Join(home, ".config", appDir, fileName), nil
}
