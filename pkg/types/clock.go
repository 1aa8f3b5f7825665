package types

import (
	"fmt"
	"time"
)

// ClockTime is a time of day with minute resolution, encoded as "HH:MM" in
// JSON and YAML.
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClockTime parses "HH:MM" (seconds, if present, are ignored).
func ParseClockTime(s string) (ClockTime, error) {
	var c ClockTime
	var sec int
	n, err := fmt.Sscanf(s, "%d:%d:%d", &c.Hour, &c.Minute, &sec)
	if err != nil && n < 2 {
		return ClockTime{}, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	if c.Hour < 0 || c.Hour > 23 || c.Minute < 0 || c.Minute > 59 {
		return ClockTime{}, fmt.Errorf("clock time %q out of range", s)
	}
	return c, nil
}

// Minutes returns the minutes elapsed since midnight.
func (c ClockTime) Minutes() int {
	return c.Hour*60 + c.Minute
}

// Before reports whether c is strictly earlier in the day than o.
func (c ClockTime) Before(o ClockTime) bool {
	return c.Minutes() < o.Minutes()
}

// OfDay extracts the ClockTime of t in t's location.
func OfDay(t time.Time) ClockTime {
	return ClockTime{Hour: t.Hour(), Minute: t.Minute()}
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// MarshalText implements encoding.TextMarshaler so the type round-trips
// through both JSON and YAML.
func (c ClockTime) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *ClockTime) UnmarshalText(b []byte) error {
	parsed, err := ParseClockTime(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// IntervalRule is a recurring daily window. When End is earlier than Start
// the window wraps past midnight (e.g. 22:00-06:00).
type IntervalRule struct {
	Start ClockTime `json:"start" yaml:"start"`
	End   ClockTime `json:"end" yaml:"end"`
}

// Contains reports whether the time of day of t falls inside the window.
// The start bound is inclusive, the end bound exclusive, except that an end
// of 00:00 on a wrapping rule means "until midnight".
func (r IntervalRule) Contains(t time.Time) bool {
	m := OfDay(t).Minutes()
	start, end := r.Start.Minutes(), r.End.Minutes()
	if start == end {
		return false
	}
	if end < start {
		// wraps past midnight; both bounds are inclusive
		return m >= start || m <= end
	}
	return m >= start && m <= end
}
