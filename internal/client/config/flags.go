package config

import (
	"flag"
	"io"

	"github.com/dmitrijs2005/gophscribe/internal/flagx"
)

// parseFlags overlays the flags listed in the package doc. Everything else,
// including the per-upload flags of cmd/uploader, is filtered out first.
func parseFlags(cfg *Config, args []string) error {
	args = flagx.FilterArgs(args, []string{"-a", "-t", "-s", "-u", "-chunk", "-timeout"})

	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.ServerURL, "a", cfg.ServerURL, "server base URL")
	fs.StringVar(&cfg.Token, "t", cfg.Token, "bearer token")
	fs.StringVar(&cfg.SecretKey, "s", cfg.SecretKey, "secret key to mint a token")
	fs.StringVar(&cfg.UserID, "u", cfg.UserID, "user id")
	fs.Var(&cfg.ChunkSize, "chunk", "chunk size")
	fs.Var(&cfg.Timeout, "timeout", "per-request timeout")

	return fs.Parse(args)
}
