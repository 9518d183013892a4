// Package flagx holds command-line helpers shared by the server and the
// uploader: argument filtering, config-file discovery and a human-readable
// size flag type.
package flagx

import (
	"flag"
	"strconv"
	"strings"

	"github.com/docker/go-units"
)

// FilterArgs keeps only the allowed flags (and their values) from args, so a
// component can parse its own flags without tripping over foreign ones.
//
// Both "-c conf.json" and "--config=conf.json" forms are recognised. A value
// is taken from the next argument only when it does not itself look like a flag.
func FilterArgs(args []string, allowedFlags []string) []string {
	allowed := make(map[string]bool, len(allowedFlags))
	for _, f := range allowedFlags {
		allowed[f] = true
	}

	filtered := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]

		if name, _, ok := strings.Cut(arg, "="); ok && strings.HasPrefix(arg, "-") {
			if allowed[name] {
				filtered = append(filtered, arg)
			}
			continue
		}

		if !allowed[arg] {
			continue
		}
		filtered = append(filtered, arg)
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			filtered = append(filtered, args[i+1])
			i++
		}
	}
	return filtered
}

// ConfigFile returns the path given with -c or -config, or "" when absent.
func ConfigFile(args []string) string {
	var path string

	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.StringVar(&path, "config", "", "path to config file (.json or .toml)")
	fs.StringVar(&path, "c", "", "path to config file (short)")
	_ = fs.Parse(FilterArgs(args, []string{"-c", "-config", "--config"}))

	return path
}

// Size is a byte count that parses "10MB", "512k" or plain integers.
type Size int64

// ParseSize parses a human-readable size using binary multiples (1MB = 1024*1024).
func ParseSize(s string) (Size, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Size(n), nil
	}
	n, err := units.RAMInBytes(s)
	if err != nil {
		return 0, err
	}
	return Size(n), nil
}

func (s *Size) String() string {
	if s == nil {
		return "0"
	}
	return units.BytesSize(float64(*s))
}

func (s *Size) Set(v string) error {
	n, err := ParseSize(v)
	if err != nil {
		return err
	}
	*s = n
	return nil
}

// UnmarshalText lets Size appear in JSON and TOML config files as a string.
func (s *Size) UnmarshalText(b []byte) error {
	return s.Set(string(b))
}
