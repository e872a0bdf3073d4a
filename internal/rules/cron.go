package rules

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CronSchedule is a parsed 5-field cron expression. The grammar is
// deliberately restricted: each field is either a wildcard or a single
// integer. Lists, ranges and steps (`,` `-` `/`) are invalid so that a
// schedule is always readable at a glance in the rule builder UI.
type CronSchedule struct {
	Minute  cronField
	Hour    cronField
	Day     cronField
	Month   cronField
	Weekday cronField
}

type cronField struct {
	any   bool
	value int
}

func (f cronField) matches(v int) bool {
	return f.any || f.value == v
}

// ParseCron parses "minute hour day month weekday". Valid ranges: minute
// 0-59, hour 0-23, day 1-31, month 1-12, weekday 0-6 (Sunday=0).
func ParseCron(expr string) (*CronSchedule, error) {
	fields := strings.Fields(strings.TrimSpace(expr))
	if len(fields) != 5 {
		return nil, fmt.Errorf("cron %q: expected 5 fields, got %d", expr, len(fields))
	}
	names := []string{"minute", "hour", "day", "month", "weekday"}
	mins := []int{0, 0, 1, 1, 0}
	maxs := []int{59, 23, 31, 12, 6}
	parsed := make([]cronField, 5)
	for i, raw := range fields {
		f, err := parseCronField(raw, mins[i], maxs[i])
		if err != nil {
			return nil, fmt.Errorf("cron %q: %s field: %w", expr, names[i], err)
		}
		parsed[i] = f
	}
	return &CronSchedule{
		Minute:  parsed[0],
		Hour:    parsed[1],
		Day:     parsed[2],
		Month:   parsed[3],
		Weekday: parsed[4],
	}, nil
}

func parseCronField(raw string, min, max int) (cronField, error) {
	if raw == "*" {
		return cronField{any: true}, nil
	}
	if strings.ContainsAny(raw, ",-/") {
		return cronField{}, fmt.Errorf("lists, ranges and steps are not supported: %q", raw)
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return cronField{}, fmt.Errorf("not a number: %q", raw)
	}
	if n < min || n > max {
		return cronField{}, fmt.Errorf("%d out of range %d-%d", n, min, max)
	}
	return cronField{value: n}, nil
}

// DueAt reports whether the schedule fires at the given instant, compared in
// UTC at minute granularity.
func (s *CronSchedule) DueAt(t time.Time) bool {
	t = t.UTC()
	return s.Minute.matches(t.Minute()) &&
		s.Hour.matches(t.Hour()) &&
		s.Day.matches(t.Day()) &&
		s.Month.matches(int(t.Month())) &&
		s.Weekday.matches(int(t.Weekday()))
}

// CronTriggerRef builds the idempotency key for a cron firing. Minute
// granularity means a scheduler tick that fires twice in the same minute
// still executes the rule once.
func CronTriggerRef(ruleID uint, t time.Time) string {
	return fmt.Sprintf("cron:%d:%s", ruleID, t.UTC().Format("200601021504"))
}
