package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophscribe/internal/flagx"
	"github.com/pelletier/go-toml/v2"
)

// Config holds runtime settings for the uploader.
type Config struct {
	ServerURL string         `json:"server_url" toml:"server_url"`
	Token     string         `json:"token" toml:"token"`
	SecretKey string         `json:"secret_key" toml:"secret_key"`
	UserID    string         `json:"user_id" toml:"user_id"`
	ChunkSize flagx.Size     `json:"chunk_size" toml:"chunk_size"`
	RetryMax  int            `json:"retry_max" toml:"retry_max"`
	Timeout   flagx.Duration `json:"timeout" toml:"timeout"`
	TokenTTL  flagx.Duration `json:"token_ttl" toml:"token_ttl"`
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerURL = "http://127.0.0.1:8080"
	c.ChunkSize = 4 << 20
	c.RetryMax = 3
	c.Timeout = flagx.Duration(2 * time.Minute)
	c.TokenTTL = flagx.Duration(time.Hour)
}

// LoadConfig builds a Config from os.Args.
func LoadConfig() (*Config, error) {
	return Load(os.Args[1:])
}

// Load applies defaults, the config file and flags from args, in that order.
func Load(args []string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	if path := flagx.ConfigFile(args); path != "" {
		if err := parseFile(cfg, path); err != nil {
			return nil, err
		}
	}
	if err := parseFlags(cfg, args); err != nil {
		return nil, err
	}
	if cfg.ChunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive")
	}
	return cfg, nil
}

func parseFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = toml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}
