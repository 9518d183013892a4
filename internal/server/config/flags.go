package config

import (
	"flag"
	"io"

	"github.com/dmitrijs2005/gophscribe/internal/flagx"
)

var allowedFlags = []string{"-a", "-g", "-d", "-s", "-l", "-storage", "-gate", "-redis", "-i", "-r", "-m", "-ffmpeg"}

// parseFlags populates selected Config fields from command-line flags.
//
//	-a string     HTTP bind address (e.g. ":8080")
//	-g string     gRPC health bind address
//	-d string     PostgreSQL DSN, or "memory"
//	-s string     JWT HMAC secret key
//	-l string     log level: debug|info|warn|error
//	-storage      blob storage backend: memory|s3
//	-gate         processing gate: global|keyed|redis
//	-redis        redis address for the redis gate
//	-i duration   coordinator pass interval
//	-r duration   reconciliation interval
//	-m size       request size limit (e.g. "110MB")
//	-ffmpeg       ffmpeg binary, "" disables transcoding
//
// Unknown flags are filtered out by flagx.FilterArgs first so -c and
// foreign flags never reach the flag set.
func parseFlags(config *Config, args []string) error {
	args = flagx.FilterArgs(args, allowedFlags)

	fs := flag.NewFlagSet("gophscribe", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&config.HTTPAddr, "a", config.HTTPAddr, "address and port to run the HTTP server")
	fs.StringVar(&config.GRPCAddr, "g", config.GRPCAddr, "address and port of the gRPC health endpoint")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")
	fs.StringVar(&config.Storage.Backend, "storage", config.Storage.Backend, "blob storage backend")
	fs.StringVar(&config.Gate.Type, "gate", config.Gate.Type, "processing gate")
	fs.StringVar(&config.Gate.RedisAddr, "redis", config.Gate.RedisAddr, "redis address")
	fs.Var(&config.Coordinator.Interval, "i", "coordinator pass interval")
	fs.Var(&config.ReconcileInterval, "r", "reconciliation interval")
	fs.Var(&config.MaxRequestSize, "m", "request size limit")
	fs.StringVar(&config.FFmpeg.Binary, "ffmpeg", config.FFmpeg.Binary, "ffmpeg binary")

	return fs.Parse(args)
}
