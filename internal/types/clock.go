package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ClockTime is a time-of-day checkpoint (hour and minute) with no date
// attached. The daily task set is built from an ordered list of these.
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClockTime parses "H:MM" or "HH:MM" strings such as "7:00" or "19:30".
func ParseClockTime(s string) (ClockTime, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return ClockTime{}, fmt.Errorf("invalid clock time %q: want H:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return ClockTime{}, fmt.Errorf("invalid hour in clock time %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return ClockTime{}, fmt.Errorf("invalid minute in clock time %q", s)
	}
	return ClockTime{Hour: h, Minute: m}, nil
}

// ParseClockTimes parses a comma-separated list of clock times.
func ParseClockTimes(csv string) ([]ClockTime, error) {
	var out []ClockTime
	for _, part := range strings.Split(csv, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		ct, err := ParseClockTime(part)
		if err != nil {
			return nil, err
		}
		out = append(out, ct)
	}
	return out, nil
}

// On returns the absolute instant of this checkpoint on the civil day
// containing day, in day's location.
func (c ClockTime) On(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, c.Hour, c.Minute, 0, 0, day.Location())
}

// Minus shifts the checkpoint earlier by the given duration, wrapping within
// the day. Used to derive reminder firing times from slot times.
func (c ClockTime) Minus(d time.Duration) ClockTime {
	total := time.Duration(c.Hour)*time.Hour + time.Duration(c.Minute)*time.Minute - d
	for total < 0 {
		total += 24 * time.Hour
	}
	total = total % (24 * time.Hour)
	return ClockTime{
		Hour:   int(total / time.Hour),
		Minute: int((total % time.Hour) / time.Minute),
	}
}

// String renders the checkpoint as zero-padded "HH:MM".
func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}
