package utils

import (
	"testing"
	"time"

	"mailburst/models"
)

func activeSender(limit, sentToday int, lastReset time.Time) *models.Sender {
	return &models.Sender{
		Status:        models.SenderStatusActive,
		IsVerified:    true,
		DailyLimit:    limit,
		SentToday:     sentToday,
		LastResetDate: lastReset,
	}
}

func TestEffectiveCountersSameDay(t *testing.T) {
	now := time.Date(2026, 5, 1, 14, 0, 0, 0, time.UTC)
	s := activeSender(500, 120, time.Date(2026, 5, 1, 0, 30, 0, 0, time.UTC))

	sent, _ := EffectiveCounters(s, now)
	if sent != 120 {
		t.Errorf("sentToday = %d, want 120", sent)
	}
}

func TestEffectiveCountersRollsOverAtMidnight(t *testing.T) {
	// Counter written yesterday evening, read just after midnight.
	s := activeSender(500, 499, time.Date(2026, 5, 1, 23, 59, 0, 0, time.UTC))
	now := time.Date(2026, 5, 2, 0, 1, 0, 0, time.UTC)

	sent, reset := EffectiveCounters(s, now)
	if sent != 0 {
		t.Errorf("sentToday after rollover = %d, want 0", sent)
	}
	want := time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC)
	if !reset.Equal(want) {
		t.Errorf("resetDate = %v, want %v", reset, want)
	}
}

func TestCanSendGates(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	today := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name   string
		sender *models.Sender
		want   bool
	}{
		{"under limit", activeSender(500, 499, today), true},
		{"at limit", activeSender(500, 500, today), false},
		{"over limit", activeSender(500, 512, today), false},
		{"at limit but stale counter", activeSender(500, 500, today.AddDate(0, 0, -1)), true},
	}
	for _, tc := range cases {
		if got := CanSend(tc.sender, now); got != tc.want {
			t.Errorf("%s: CanSend = %v, want %v", tc.name, got, tc.want)
		}
	}

	errored := activeSender(500, 0, today)
	errored.Status = models.SenderStatusError
	if CanSend(errored, now) {
		t.Error("errored sender must not send")
	}

	reauth := activeSender(500, 0, today)
	reauth.Status = models.SenderStatusNeedsReauth
	if CanSend(reauth, now) {
		t.Error("sender needing reauth must not send")
	}

	unverified := activeSender(500, 0, today)
	unverified.IsVerified = false
	if CanSend(unverified, now) {
		t.Error("unverified sender must not send")
	}
}
