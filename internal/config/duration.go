package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/0xfell/ditox/internal/ditoxerr"
)

// Duration is a time.Duration that parses the `<integer><unit>` syntax
// spec.md §4.7 requires (unit ∈ {s,m,h,d,w}), which time.ParseDuration
// does not support (it lacks d and w).
type Duration time.Duration

func (d Duration) AsDuration() time.Duration {
	return time.Duration(d)
}

// UnmarshalText implements encoding.TextUnmarshaler so both
// BurntSushi/toml and caarlos0/env can populate a Duration field
// directly from its string form.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler for Save.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(FormatDuration(time.Duration(d))), nil
}

var unitScale = map[byte]time.Duration{
	's': time.Second,
	'm': time.Minute,
	'h': time.Hour,
	'd': 24 * time.Hour,
	'w': 7 * 24 * time.Hour,
}

// ParseDuration parses a string of the form "<integer><unit>" where unit
// is one of s, m, h, d, w. An empty string parses to zero.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	unit := s[len(s)-1]
	scale, ok := unitScale[unit]
	if !ok {
		return 0, ditoxerr.New(ditoxerr.InvalidInput, fmt.Sprintf("duration %q: unrecognized unit (want one of s,m,h,d,w)", s))
	}

	n, err := strconv.ParseInt(s[:len(s)-1], 10, 64)
	if err != nil {
		return 0, ditoxerr.Wrap(ditoxerr.InvalidInput, fmt.Sprintf("duration %q", s), err)
	}
	return time.Duration(n) * scale, nil
}

// FormatDuration renders d back into the largest unit that divides it
// evenly, falling back to seconds.
func FormatDuration(d time.Duration) string {
	for _, u := range []struct {
		suffix string
		scale  time.Duration
	}{
		{"w", 7 * 24 * time.Hour},
		{"d", 24 * time.Hour},
		{"h", time.Hour},
		{"m", time.Minute},
	} {
		if d%u.scale == 0 && d >= u.scale {
			return fmt.Sprintf("%d%s", d/u.scale, u.suffix)
		}
	}
	return fmt.Sprintf("%ds", d/time.Second)
}
