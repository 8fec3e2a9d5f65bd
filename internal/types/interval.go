package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Interval is the user-facing cadence of an export: "hour", "day", "week" or
// a custom fixed duration written as "every <n> minutes" / "every <n> hours".
type Interval string

const (
	IntervalHour Interval = "hour"
	IntervalDay  Interval = "day"
	IntervalWeek Interval = "week"
)

// EveryMinutes builds a custom fixed-duration interval.
func EveryMinutes(n int) Interval {
	return Interval(fmt.Sprintf("every %d minutes", n))
}

// ParseInterval validates s and returns it as an Interval.
func ParseInterval(s string) (Interval, error) {
	i := Interval(strings.TrimSpace(s))
	if _, err := i.parse(); err != nil {
		return "", err
	}
	return i, nil
}

// Valid reports whether the interval is well formed.
func (i Interval) Valid() bool {
	_, err := i.parse()
	return err == nil
}

// IsCalendar reports whether the interval is expressed as a calendar rule
// (daily or weekly at a wall-clock hour) rather than a fixed duration.
func (i Interval) IsCalendar() bool {
	return i == IntervalDay || i == IntervalWeek
}

// IsCustom reports whether the interval is an "every ..." duration.
func (i Interval) IsCustom() bool {
	return strings.HasPrefix(string(i), "every ")
}

// Duration returns the nominal length of one interval. Calendar intervals
// return their nominal 24h / 168h length; wall-clock days may differ across DST.
func (i Interval) Duration() time.Duration {
	d, _ := i.parse()
	return d
}

func (i Interval) parse() (time.Duration, error) {
	switch i {
	case IntervalHour:
		return time.Hour, nil
	case IntervalDay:
		return 24 * time.Hour, nil
	case IntervalWeek:
		return 7 * 24 * time.Hour, nil
	}

	fields := strings.Fields(string(i))
	if len(fields) != 3 || fields[0] != "every" {
		return 0, fmt.Errorf("invalid interval %q", string(i))
	}
	n, err := strconv.Atoi(fields[1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid interval %q: count must be a positive integer", string(i))
	}
	switch fields[2] {
	case "minute", "minutes":
		return time.Duration(n) * time.Minute, nil
	case "hour", "hours":
		return time.Duration(n) * time.Hour, nil
	}
	return 0, fmt.Errorf("invalid interval %q: unit must be minutes or hours", string(i))
}
