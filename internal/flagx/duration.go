package flagx

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration is a time.Duration that config files and flags may spell as "10s" or as
// integer nanoseconds.
type Duration time.Duration

func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", b, err)
	}
	*d = Duration(v)
	return nil
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch v := v.(type) {
	case float64:
		*d = Duration(int64(v))
		return nil
	case string:
		return d.UnmarshalText([]byte(v))
	default:
		return fmt.Errorf("invalid duration %s", b)
	}
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Set lets Duration back a flag.
func (d *Duration) Set(s string) error { return d.UnmarshalText([]byte(s)) }
