package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// IntervalSchedule fires at a fixed interval.
type IntervalSchedule struct {
	Interval time.Duration
}

// Every creates an interval schedule.
func Every(d time.Duration) *IntervalSchedule {
	return &IntervalSchedule{Interval: d}
}

// Next returns the next run time.
func (s *IntervalSchedule) Next(after time.Time) time.Time {
	return after.Add(s.Interval)
}

// DailySchedule fires once a day at a fixed wall-clock time.
type DailySchedule struct {
	Hour   int
	Minute int
}

// Daily creates a daily schedule.
func Daily(hour, minute int) *DailySchedule {
	return &DailySchedule{Hour: hour, Minute: minute}
}

// Next returns the next run time.
func (s *DailySchedule) Next(after time.Time) time.Time {
	next := time.Date(after.Year(), after.Month(), after.Day(), s.Hour, s.Minute, 0, 0, after.Location())
	if !next.After(after) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// WeeklySchedule fires on selected weekdays at a fixed time.
type WeeklySchedule struct {
	Days   []time.Weekday
	Hour   int
	Minute int
}

// Weekly creates a weekly schedule.
func Weekly(days []time.Weekday, hour, minute int) *WeeklySchedule {
	return &WeeklySchedule{Days: days, Hour: hour, Minute: minute}
}

// Next returns the next run time, or the zero time when no days are set.
func (s *WeeklySchedule) Next(after time.Time) time.Time {
	if len(s.Days) == 0 {
		return time.Time{}
	}

	next := time.Date(after.Year(), after.Month(), after.Day(), s.Hour, s.Minute, 0, 0, after.Location())
	if !next.After(after) {
		next = next.AddDate(0, 0, 1)
	}
	for i := 0; i < 8; i++ {
		for _, day := range s.Days {
			if next.Weekday() == day {
				return next
			}
		}
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// CronSchedule implements five-field cron scheduling:
// minute hour day-of-month month day-of-week, with * , - and */n.
type CronSchedule struct {
	Minutes     []int // 0-59
	Hours       []int // 0-23
	DaysOfMonth []int // 1-31
	Months      []int // 1-12
	DaysOfWeek  []int // 0-6, 0=Sunday
}

// Cron parses a cron expression.
func Cron(expr string) (*CronSchedule, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return nil, fmt.Errorf("invalid cron expression: expected 5 fields, got %d", len(parts))
	}

	minutes, err := parseCronField(parts[0], 0, 59)
	if err != nil {
		return nil, fmt.Errorf("invalid minute field: %w", err)
	}
	hours, err := parseCronField(parts[1], 0, 23)
	if err != nil {
		return nil, fmt.Errorf("invalid hour field: %w", err)
	}
	daysOfMonth, err := parseCronField(parts[2], 1, 31)
	if err != nil {
		return nil, fmt.Errorf("invalid day-of-month field: %w", err)
	}
	months, err := parseCronField(parts[3], 1, 12)
	if err != nil {
		return nil, fmt.Errorf("invalid month field: %w", err)
	}
	daysOfWeek, err := parseCronField(parts[4], 0, 6)
	if err != nil {
		return nil, fmt.Errorf("invalid day-of-week field: %w", err)
	}

	return &CronSchedule{
		Minutes:     minutes,
		Hours:       hours,
		DaysOfMonth: daysOfMonth,
		Months:      months,
		DaysOfWeek:  daysOfWeek,
	}, nil
}

// MustCron parses a cron expression and panics on error.
func MustCron(expr string) *CronSchedule {
	s, err := Cron(expr)
	if err != nil {
		panic(err)
	}
	return s
}

// Next returns the next matching minute after the given time.
func (s *CronSchedule) Next(after time.Time) time.Time {
	t := after.Truncate(time.Minute).Add(time.Minute)
	maxTime := after.AddDate(4, 0, 0)

	for t.Before(maxTime) {
		if !contains(s.Months, int(t.Month())) {
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, t.Location())
			continue
		}

		// Standard cron: when both day fields are restricted, either
		// matching is enough.
		domMatch := contains(s.DaysOfMonth, t.Day())
		dowMatch := contains(s.DaysOfWeek, int(t.Weekday()))
		var dayMatch bool
		switch {
		case len(s.DaysOfMonth) == 31 && len(s.DaysOfWeek) == 7:
			dayMatch = true
		case len(s.DaysOfMonth) == 31:
			dayMatch = dowMatch
		case len(s.DaysOfWeek) == 7:
			dayMatch = domMatch
		default:
			dayMatch = domMatch || dowMatch
		}
		if !dayMatch {
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, t.Location())
			continue
		}

		if !contains(s.Hours, t.Hour()) {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, t.Location())
			continue
		}
		if !contains(s.Minutes, t.Minute()) {
			t = t.Add(time.Minute)
			continue
		}
		return t
	}

	return time.Time{}
}

func parseCronField(field string, min, max int) ([]int, error) {
	var values []int

	for _, part := range strings.Split(field, ",") {
		part = strings.TrimSpace(part)

		step := 1
		if idx := strings.Index(part, "/"); idx != -1 {
			var err error
			step, err = strconv.Atoi(part[idx+1:])
			if err != nil || step <= 0 {
				return nil, fmt.Errorf("invalid step: %s", part)
			}
			part = part[:idx]
		}

		if part == "*" {
			for i := min; i <= max; i += step {
				values = append(values, i)
			}
			continue
		}

		if idx := strings.Index(part, "-"); idx != -1 {
			start, err := strconv.Atoi(part[:idx])
			if err != nil {
				return nil, fmt.Errorf("invalid range start: %s", part)
			}
			end, err := strconv.Atoi(part[idx+1:])
			if err != nil {
				return nil, fmt.Errorf("invalid range end: %s", part)
			}
			if start < min || end > max || start > end {
				return nil, fmt.Errorf("invalid range: %s", part)
			}
			for i := start; i <= end; i += step {
				values = append(values, i)
			}
			continue
		}

		val, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid value: %s", part)
		}
		if val < min || val > max {
			return nil, fmt.Errorf("value out of range: %d", val)
		}
		values = append(values, val)
	}

	return values, nil
}

func contains(slice []int, val int) bool {
	for _, v := range slice {
		if v == val {
			return true
		}
	}
	return false
}
