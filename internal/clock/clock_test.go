package clock

import (
	"testing"
	"time"
)

func TestRealClock(t *testing.T) {
	c := &RealClock{}
	before := time.Now()
	now := c.Now()
	after := time.Now()

	if now.Before(before) || now.After(after) {
		t.Errorf("RealClock.Now() = %v, want between %v and %v", now, before, after)
	}
}

func TestMockClock(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewMockClock(base)

	if got := c.Now(); !got.Equal(base) {
		t.Errorf("Now() = %v, want %v", got, base)
	}

	c.Advance(90 * time.Second)
	if got := c.Now(); !got.Equal(base.Add(90 * time.Second)) {
		t.Errorf("after Advance, Now() = %v", got)
	}

	next := base.Add(time.Hour)
	c.Set(next)
	if got := c.Now(); !got.Equal(next) {
		t.Errorf("after Set, Now() = %v, want %v", got, next)
	}

	if d := c.Since(base); d != time.Hour {
		t.Errorf("Since(base) = %v, want 1h", d)
	}
	if d := c.Until(base.Add(2 * time.Hour)); d != time.Hour {
		t.Errorf("Until(base+2h) = %v, want 1h", d)
	}
}
