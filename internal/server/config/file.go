package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// parseFile overlays the JSON or TOML file at path onto config. Keys absent
// from the file keep their current values. The format follows the extension;
// anything but .toml is read as JSON.
func parseFile(config *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, config)
	default:
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}
