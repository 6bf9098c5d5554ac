package config

import (
	"fmt"
	"os"
)

// InitConfig writes a sample configuration file at the default location,
// returning the path written. Fails if a config already exists there
// unless force is true.
func InitConfig(force bool) (string, error) {
	return GetDefaultConfigPath(), InitConfigToPath(GetDefaultConfigPath(), force)
}

// InitConfigToPath writes a sample configuration file to path. Fails if a
// file already exists there unless force is true.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("configuration file already exists at %s (use --force to overwrite)", path)
		}
	}
	cfg := GetDefaultConfig()
	return SaveConfig(cfg, path)
}
