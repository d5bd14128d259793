package scheduler

import (
	"testing"
	"time"
)

func TestIntervalSchedule(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := Every(1 * time.Hour)
	next := s.Next(now)
	if !next.Equal(now.Add(1 * time.Hour)) {
		t.Errorf("expected %v, got %v", now.Add(1*time.Hour), next)
	}
}

func TestDailySchedule(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	// Later today.
	s1 := Daily(14, 30)
	next1 := s1.Next(now)
	expected1 := time.Date(2026, 1, 1, 14, 30, 0, 0, time.UTC)
	if !next1.Equal(expected1) {
		t.Errorf("later today: expected %v, got %v", expected1, next1)
	}

	// Already passed today, rolls to tomorrow.
	s2 := Daily(8, 0)
	next2 := s2.Next(now)
	expected2 := time.Date(2026, 1, 2, 8, 0, 0, 0, time.UTC)
	if !next2.Equal(expected2) {
		t.Errorf("tomorrow: expected %v, got %v", expected2, next2)
	}
}

func TestWeeklySchedule(t *testing.T) {
	// 2026-01-01 is a Thursday.
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	// Same day, later time.
	s1 := Weekly([]time.Weekday{time.Thursday}, 14, 0)
	next1 := s1.Next(now)
	expected1 := time.Date(2026, 1, 1, 14, 0, 0, 0, time.UTC)
	if !next1.Equal(expected1) {
		t.Errorf("same day: expected %v, got %v", expected1, next1)
	}

	// Same day, earlier time, rolls a full week.
	s2 := Weekly([]time.Weekday{time.Thursday}, 8, 0)
	next2 := s2.Next(now)
	expected2 := time.Date(2026, 1, 8, 8, 0, 0, 0, time.UTC)
	if !next2.Equal(expected2) {
		t.Errorf("next week: expected %v, got %v", expected2, next2)
	}

	// Nearest of several days wins.
	s3 := Weekly([]time.Weekday{time.Monday, time.Saturday}, 10, 0)
	next3 := s3.Next(now)
	expected3 := time.Date(2026, 1, 3, 10, 0, 0, 0, time.UTC) // Saturday
	if !next3.Equal(expected3) {
		t.Errorf("nearest day: expected %v, got %v", expected3, next3)
	}

	// No days never fires.
	s4 := Weekly(nil, 10, 0)
	if !s4.Next(now).IsZero() {
		t.Error("empty weekly schedule should return zero time")
	}
}

func TestCronParsing(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"* * * * *", false},
		{"*/5 * * * *", false},
		{"0 0 1 1 *", false},
		{"1-5 * * * *", false},
		{"1,2,3 * * * *", false},
		{"* * * *", true},     // too short
		{"* * * * * *", true}, // too long
		{"60 * * * *", true},  // minute out of range
		{"* 24 * * *", true},  // hour out of range
		{"a * * * *", true},
		{"*/0 * * * *", true},
		{"5-1 * * * *", true}, // inverted range
	}

	for _, tt := range tests {
		_, err := Cron(tt.expr)
		if (err != nil) != tt.wantErr {
			t.Errorf("Cron(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
		}
	}
}

func TestCronNext(t *testing.T) {
	// 2026-01-01 10:00:00 is a Thursday.
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		expr string
		want time.Time
	}{
		{"* * * * *", now.Add(1 * time.Minute)},
		{"30 * * * *", time.Date(2026, 1, 1, 10, 30, 0, 0, time.UTC)},
		{"0 * * * *", time.Date(2026, 1, 1, 11, 0, 0, 0, time.UTC)},
		{"0 14 * * *", time.Date(2026, 1, 1, 14, 0, 0, 0, time.UTC)},
		{"0 8 * * *", time.Date(2026, 1, 2, 8, 0, 0, 0, time.UTC)},
		{"0 0 1 2 *", time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)},
		{"0 12 * * 5", time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)}, // Friday
	}

	for _, tt := range tests {
		s, err := Cron(tt.expr)
		if err != nil {
			t.Errorf("Cron(%q) failed: %v", tt.expr, err)
			continue
		}
		got := s.Next(now)
		if !got.Equal(tt.want) {
			t.Errorf("Cron(%q).Next() = %v, want %v", tt.expr, got, tt.want)
		}
	}
}

func TestMustCronPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustCron should panic on invalid expression")
		}
	}()
	MustCron("not a cron")
}
