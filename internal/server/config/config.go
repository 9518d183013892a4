// Package config handles configuration for the server component: defaults,
// an optional JSON or TOML file, GOPHSCRIBE_* environment variables and
// command-line flags, applied in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophscribe/internal/common"
	"github.com/dmitrijs2005/gophscribe/internal/flagx"
)

// Config holds runtime settings for the gophscribe server.
type Config struct {
	HTTPAddr    string `json:"http_addr" toml:"http_addr"`
	GRPCAddr    string `json:"grpc_addr" toml:"grpc_addr"`
	DatabaseDSN string `json:"database_dsn" toml:"database_dsn"` // "memory" keeps everything in process
	SecretKey   string `json:"secret_key" toml:"secret_key"`
	LogLevel    string `json:"log_level" toml:"log_level"`
	LogFormat   string `json:"log_format" toml:"log_format"`

	MaxRequestSize    flagx.Size     `json:"max_request_size" toml:"max_request_size"`
	ReconcileInterval flagx.Duration `json:"reconcile_interval" toml:"reconcile_interval"`

	Storage     StorageConfig     `json:"storage" toml:"storage"`
	Speech      SpeechConfig      `json:"speech" toml:"speech"`
	Gate        GateConfig        `json:"gate" toml:"gate"`
	Coordinator CoordinatorConfig `json:"coordinator" toml:"coordinator"`
	FFmpeg      FFmpegConfig      `json:"ffmpeg" toml:"ffmpeg"`
}

type StorageConfig struct {
	Backend      string         `json:"backend" toml:"backend"` // memory | s3
	Region       string         `json:"region" toml:"region"`
	Endpoint     string         `json:"endpoint" toml:"endpoint"`
	AccessKey    string         `json:"access_key" toml:"access_key"`
	SecretKey    string         `json:"secret_key" toml:"secret_key"`
	Bucket       string         `json:"bucket" toml:"bucket"`
	UsePathStyle bool           `json:"use_path_style" toml:"use_path_style"`
	MaxBlockSize flagx.Size     `json:"max_block_size" toml:"max_block_size"`
	URLTTL       flagx.Duration `json:"url_ttl" toml:"url_ttl"`
}

type SpeechConfig struct {
	Region      string         `json:"region" toml:"region"`
	Key         string         `json:"key" toml:"key"`
	BaseURL     string         `json:"base_url" toml:"base_url"`
	RetryMax    int            `json:"retry_max" toml:"retry_max"`
	Timeout     flagx.Duration `json:"timeout" toml:"timeout"`
	MinSpeakers int            `json:"min_speakers" toml:"min_speakers"`
	MaxSpeakers int            `json:"max_speakers" toml:"max_speakers"`
}

type GateConfig struct {
	Type          string         `json:"type" toml:"type"` // global | keyed | redis
	TTL           flagx.Duration `json:"ttl" toml:"ttl"`
	RedisAddr     string         `json:"redis_addr" toml:"redis_addr"`
	RedisUsername string         `json:"redis_username" toml:"redis_username"`
	RedisPassword string         `json:"redis_password" toml:"redis_password"`
	RedisDB       int            `json:"redis_db" toml:"redis_db"`
	Prefix        string         `json:"prefix" toml:"prefix"`
}

type CoordinatorConfig struct {
	Interval     flagx.Duration `json:"interval" toml:"interval"`
	CallTimeout  flagx.Duration `json:"call_timeout" toml:"call_timeout"`
	GapTimeout   flagx.Duration `json:"gap_timeout" toml:"gap_timeout"`
	StaleAfter   flagx.Duration `json:"stale_after" toml:"stale_after"`
	SubChunkSize flagx.Size     `json:"sub_chunk_size" toml:"sub_chunk_size"`
	BlockSize    flagx.Size     `json:"block_size" toml:"block_size"`
}

// FFmpegConfig controls transcoding of buffered uploads. An empty Binary
// disables it.
type FFmpegConfig struct {
	Binary     string `json:"binary" toml:"binary"`
	ScratchDir string `json:"scratch_dir" toml:"scratch_dir"`
}

// LoadDefaults populates Config with development defaults: in-memory
// storage and repositories, a single-process gate.
// NOTE: the secret key is insecure and must be overridden in production.
func (c *Config) LoadDefaults() {
	c.HTTPAddr = ":8080"
	c.GRPCAddr = ":50051"
	c.DatabaseDSN = "memory"
	c.SecretKey = "secretKey"
	c.LogLevel = "info"
	c.LogFormat = "json"
	c.MaxRequestSize = 110 << 20
	c.ReconcileInterval = flagx.Duration(30 * time.Second)

	c.Storage = StorageConfig{
		Backend:      "memory",
		Region:       "us-east-1",
		MaxBlockSize: 100 << 20,
		URLTTL:       flagx.Duration(2 * time.Hour),
	}
	c.Speech = SpeechConfig{
		RetryMax:    3,
		Timeout:     flagx.Duration(time.Minute),
		MinSpeakers: 1,
		MaxSpeakers: 10,
	}
	c.Gate = GateConfig{
		Type:   "global",
		TTL:    flagx.Duration(10 * time.Minute),
		Prefix: "gophscribe:lease:",
	}
	c.Coordinator = CoordinatorConfig{
		Interval:     flagx.Duration(10 * time.Second),
		CallTimeout:  flagx.Duration(2 * time.Minute),
		GapTimeout:   flagx.Duration(5 * time.Minute),
		StaleAfter:   flagx.Duration(30 * time.Minute),
		SubChunkSize: 4 << 20,
		BlockSize:    8 << 20,
	}
	c.FFmpeg = FFmpegConfig{
		Binary:     "ffmpeg",
		ScratchDir: os.TempDir(),
	}
}

// LoadConfig builds a Config from os.Args and the process environment.
func LoadConfig() (*Config, error) {
	return Load(os.Args[1:], os.LookupEnv)
}

// Load applies defaults, the config file named by -c/-config, environment
// variables and flags, then validates the result.
func Load(args []string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	if path := flagx.ConfigFile(args); path != "" {
		if err := parseFile(cfg, path); err != nil {
			return nil, err
		}
	}
	if err := parseEnv(cfg, lookup); err != nil {
		return nil, err
	}
	if err := parseFlags(cfg, args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every missing or inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.HTTPAddr == "" {
		add("http address is required")
	}
	if c.SecretKey == "" {
		add("secret key is required")
	}
	if c.DatabaseDSN == "" {
		add(`database dsn is required (use "memory" for an in-process store)`)
	}

	switch strings.ToLower(c.Storage.Backend) {
	case "memory":
	case "s3":
		if c.Storage.Bucket == "" {
			add("s3 bucket is required")
		}
		if c.Storage.AccessKey == "" || c.Storage.SecretKey == "" {
			add("s3 credentials are required")
		}
	default:
		add("unknown storage backend %q", c.Storage.Backend)
	}

	if c.Speech.Key == "" {
		add("speech key is required")
	}
	if c.Speech.Region == "" && c.Speech.BaseURL == "" {
		add("speech region or base url is required")
	}

	switch strings.ToLower(c.Gate.Type) {
	case "global", "keyed":
	case "redis":
		if c.Gate.RedisAddr == "" {
			add("redis address is required for the redis gate")
		}
	default:
		add("unknown gate type %q", c.Gate.Type)
	}

	for name, d := range map[string]flagx.Duration{
		"gate ttl":             c.Gate.TTL,
		"reconcile interval":   c.ReconcileInterval,
		"coordinator interval": c.Coordinator.Interval,
		"call timeout":         c.Coordinator.CallTimeout,
		"gap timeout":          c.Coordinator.GapTimeout,
		"stale after":          c.Coordinator.StaleAfter,
	} {
		if d <= 0 {
			add("%s must be positive", name)
		}
	}
	if c.Coordinator.SubChunkSize <= 0 || c.Coordinator.BlockSize <= 0 {
		add("sub chunk and block sizes must be positive")
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: config: %w", common.ErrValidation, errors.Join(errs...))
}
