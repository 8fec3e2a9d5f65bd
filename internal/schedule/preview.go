package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// CronExpression renders a calendar spec as a standard five-field cron line
// with its timezone prefix. Interval specs have no cron form.
func (s Spec) CronExpression() (string, bool) {
	if len(s.Calendars) == 0 {
		return "", false
	}
	c := s.Calendars[0]
	dow := "*"
	if len(c.DaysOfWeek) > 0 && len(c.DaysOfWeek) < 7 {
		days := make([]string, len(c.DaysOfWeek))
		for i, d := range c.DaysOfWeek {
			days[i] = strconv.Itoa(d)
		}
		dow = strings.Join(days, ",")
	}
	return fmt.Sprintf("CRON_TZ=%s %d %d * * %s", s.Timezone, c.Minute, c.Hour, dow), true
}

// Next returns the first fire time strictly after t, in UTC. It reports false
// when the schedule has ended.
func (s Spec) Next(t time.Time) (time.Time, bool) {
	if s.StartAt != nil && t.Before(*s.StartAt) {
		t = s.StartAt.Add(-time.Nanosecond)
	}

	var next time.Time
	switch {
	case len(s.Intervals) > 0:
		next = nextInterval(s.Intervals[0], t)
	case len(s.Calendars) > 0:
		expr, _ := s.CronExpression()
		sched, err := cron.ParseStandard(expr)
		if err != nil {
			return time.Time{}, false
		}
		next = sched.Next(t)
		if next.IsZero() {
			return time.Time{}, false
		}
	default:
		return time.Time{}, false
	}

	next = next.UTC()
	if s.EndAt != nil && next.After(*s.EndAt) {
		return time.Time{}, false
	}
	return next, true
}

// Upcoming returns up to n fire times after t.
func (s Spec) Upcoming(t time.Time, n int) []time.Time {
	out := make([]time.Time, 0, n)
	for range n {
		next, ok := s.Next(t)
		if !ok {
			break
		}
		out = append(out, next)
		t = next
	}
	return out
}

// nextInterval finds the smallest epoch + k*Every + Offset after t.
func nextInterval(iv IntervalSpec, t time.Time) time.Time {
	every := iv.Every.Nanoseconds()
	since := t.UnixNano() - iv.Offset.Nanoseconds()
	k := since / every
	if since%every != 0 && since < 0 {
		k--
	}
	k++
	return time.Unix(0, k*every+iv.Offset.Nanoseconds()).UTC()
}
