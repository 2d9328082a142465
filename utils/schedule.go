package utils

import (
	"errors"
	"fmt"
	"time"
)

var ErrScheduleInPast = errors.New("scheduled time must be in the future")

// ResolveSendTime converts a user-supplied local send time and IANA timezone
// name into an absolute UTC instant plus the queue delay. Scheduled sends
// must be strictly in the future at validation time; the queue's delay
// mechanism owns the actual wait.
func ResolveSendTime(localTime, tzName string, now time.Time) (time.Time, time.Duration, error) {
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("invalid timezone %q: %w", tzName, err)
	}

	target, err := time.ParseInLocation("2006-01-02T15:04", localTime, loc)
	if err != nil {
		// Accept seconds too
		target, err = time.ParseInLocation("2006-01-02T15:04:05", localTime, loc)
		if err != nil {
			return time.Time{}, 0, fmt.Errorf("invalid send time %q: %w", localTime, err)
		}
	}

	targetUTC := target.UTC()
	delay := targetUTC.Sub(now)
	if delay <= 0 {
		return time.Time{}, 0, ErrScheduleInPast
	}

	return targetUTC, delay, nil
}
