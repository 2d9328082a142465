package utils

import (
	"errors"
	"testing"
	"time"
)

func TestResolveSendTimeConvertsZone(t *testing.T) {
	// 2026-03-10 18:30 IST is 13:00 UTC
	now := time.Date(2026, 3, 10, 12, 58, 0, 0, time.UTC)

	target, delay, err := ResolveSendTime("2026-03-10T18:30", "Asia/Kolkata", now)
	if err != nil {
		t.Fatalf("ResolveSendTime: %v", err)
	}

	want := time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC)
	if !target.Equal(want) {
		t.Errorf("target = %v, want %v", target, want)
	}
	if delay != 2*time.Minute {
		t.Errorf("delay = %v, want %v", delay, 2*time.Minute)
	}
}

func TestResolveSendTimeAcceptsSeconds(t *testing.T) {
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	target, _, err := ResolveSendTime("2026-03-10T06:15:30", "UTC", now)
	if err != nil {
		t.Fatalf("ResolveSendTime: %v", err)
	}
	if target.Second() != 30 {
		t.Errorf("seconds = %d, want 30", target.Second())
	}
}

func TestResolveSendTimeRejectsPast(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	cases := []string{
		"2026-03-10T11:00", // before now
		"2026-03-10T12:00", // exactly now
	}
	for _, localTime := range cases {
		_, _, err := ResolveSendTime(localTime, "UTC", now)
		if !errors.Is(err, ErrScheduleInPast) {
			t.Errorf("ResolveSendTime(%q) err = %v, want ErrScheduleInPast", localTime, err)
		}
	}
}

func TestResolveSendTimeRejectsBadInput(t *testing.T) {
	now := time.Now()

	if _, _, err := ResolveSendTime("2026-03-10T18:30", "Not/AZone", now); err == nil {
		t.Error("expected error for unknown timezone")
	}
	if _, _, err := ResolveSendTime("tomorrow at noon", "UTC", now); err == nil {
		t.Error("expected error for unparseable time")
	}
}
