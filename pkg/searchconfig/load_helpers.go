package searchconfig

import (
	"errors"
	"strings"
)

// LoadFromFlagOrDir loads the config from cfgPath if provided, otherwise
// searches for search.yaml starting from dir (walking up parent directories).
// A missing search.yaml falls back to Default(); a search.yaml that exists but
// fails to parse or validate is an error.
func LoadFromFlagOrDir(cfgPath string, dir string) (*Config, error) {
	if strings.TrimSpace(cfgPath) != "" {
		return Load(cfgPath)
	}
	cfg, err := LoadFromDir(dir)
	if errors.Is(err, ErrNotFound) {
		return Default(), nil
	}
	return cfg, err
}
