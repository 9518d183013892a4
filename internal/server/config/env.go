package config

import (
	"encoding"
	"fmt"
	"strconv"
)

const envPrefix = "GOPHSCRIBE_"

// parseEnv overrides config from GOPHSCRIBE_* variables.
func parseEnv(config *Config, lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"HTTP_ADDR":       &config.HTTPAddr,
		"GRPC_ADDR":       &config.GRPCAddr,
		"DATABASE_DSN":    &config.DatabaseDSN,
		"SECRET_KEY":      &config.SecretKey,
		"LOG_LEVEL":       &config.LogLevel,
		"LOG_FORMAT":      &config.LogFormat,
		"STORAGE_BACKEND": &config.Storage.Backend,
		"S3_REGION":       &config.Storage.Region,
		"S3_ENDPOINT":     &config.Storage.Endpoint,
		"S3_ACCESS_KEY":   &config.Storage.AccessKey,
		"S3_SECRET_KEY":   &config.Storage.SecretKey,
		"S3_BUCKET":       &config.Storage.Bucket,
		"SPEECH_REGION":   &config.Speech.Region,
		"SPEECH_KEY":      &config.Speech.Key,
		"SPEECH_BASE_URL": &config.Speech.BaseURL,
		"GATE":            &config.Gate.Type,
		"REDIS_ADDR":      &config.Gate.RedisAddr,
		"REDIS_USERNAME":  &config.Gate.RedisUsername,
		"REDIS_PASSWORD":  &config.Gate.RedisPassword,
		"FFMPEG_BINARY":   &config.FFmpeg.Binary,
		"FFMPEG_SCRATCH":  &config.FFmpeg.ScratchDir,
	}
	for name, dst := range strs {
		if v, ok := lookup(envPrefix + name); ok {
			*dst = v
		}
	}

	texts := map[string]encoding.TextUnmarshaler{
		"MAX_REQUEST_SIZE":     &config.MaxRequestSize,
		"RECONCILE_INTERVAL":   &config.ReconcileInterval,
		"COORDINATOR_INTERVAL": &config.Coordinator.Interval,
		"CALL_TIMEOUT":         &config.Coordinator.CallTimeout,
		"GAP_TIMEOUT":          &config.Coordinator.GapTimeout,
		"STALE_AFTER":          &config.Coordinator.StaleAfter,
		"GATE_TTL":             &config.Gate.TTL,
	}
	for name, dst := range texts {
		if v, ok := lookup(envPrefix + name); ok {
			if err := dst.UnmarshalText([]byte(v)); err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, name, err)
			}
		}
	}

	if v, ok := lookup(envPrefix + "S3_PATH_STYLE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sS3_PATH_STYLE: %w", envPrefix, err)
		}
		config.Storage.UsePathStyle = b
	}
	if v, ok := lookup(envPrefix + "REDIS_DB"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sREDIS_DB: %w", envPrefix, err)
		}
		config.Gate.RedisDB = n
	}
	return nil
}
