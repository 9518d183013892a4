// Package config loads runtime configuration for the gophscribe uploader.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON or TOML file selected with -c or -config.
//  3. Command-line flags, which override earlier values.
//
// Supported flags
//
//	-a string    base URL of the gophscribe server
//	-t string    bearer token
//	-s string    HMAC secret used to mint a token when -t is empty
//	-u string    user id the minted token carries
//	-chunk size  chunk size, e.g. "4MB"
//	-timeout     per-request timeout, e.g. "2m"
//
// # File schema
//
// Durations are strings like "30s" or integer nanoseconds, sizes strings
// like "8MB":
//
//	{
//	  "server_url": "http://127.0.0.1:8080",
//	  "chunk_size": "4MB",
//	  "timeout": "2m"
//	}
package config
