package utils

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"mailburst/models"
)

// ErrNoCapacity is returned when none of a user's sender accounts can take
// another send today. Callers surface this synchronously; it is never a
// retryable job failure.
var ErrNoCapacity = errors.New("no sender account with available capacity")

// EffectiveCounters applies the implicit day rollover to a sender's daily
// counter without persisting it. The gate check and the increment path both
// go through here so the two can never drift.
func EffectiveCounters(sender *models.Sender, now time.Time) (sentToday int, resetDate time.Time) {
	today := truncateToDay(now)
	last := truncateToDay(sender.LastResetDate)
	if today.After(last) {
		return 0, today
	}
	return sender.SentToday, last
}

// CanSend reports whether the account may be selected for sending right now.
func CanSend(sender *models.Sender, now time.Time) bool {
	if sender.Status != models.SenderStatusActive || !sender.IsVerified {
		return false
	}
	sentToday, _ := EffectiveCounters(sender, now)
	return sentToday < sender.DailyLimit
}

// SelectSender returns the least-recently-used account among the user's
// accounts that can send, or ErrNoCapacity if none qualifies. The daily-limit
// check is best-effort under concurrent sends; a small overshoot of the limit
// is tolerated.
func SelectSender(db *gorm.DB, userID uint) (*models.Sender, error) {
	var senders []models.Sender
	if err := db.Where("user_id = ?", userID).
		Order("last_used_at ASC NULLS FIRST").
		Find(&senders).Error; err != nil {
		return nil, err
	}

	now := time.Now()
	for i := range senders {
		if CanSend(&senders[i], now) {
			return &senders[i], nil
		}
	}
	return nil, ErrNoCapacity
}

// IncrementUsage applies the day rollover if needed, then adds count to the
// daily and lifetime counters and stamps last_used_at.
func IncrementUsage(db *gorm.DB, sender *models.Sender, count int) error {
	now := time.Now()
	sentToday, resetDate := EffectiveCounters(sender, now)

	updates := map[string]interface{}{
		"sent_today":      sentToday + count,
		"total_sent":      gorm.Expr("total_sent + ?", count),
		"last_reset_date": resetDate,
		"last_used_at":    now,
	}
	if sentToday == sender.SentToday && resetDate.Equal(truncateToDay(sender.LastResetDate)) {
		// No rollover happened; let concurrent increments stack instead of
		// clobbering each other.
		updates["sent_today"] = gorm.Expr("sent_today + ?", count)
	}

	if err := db.Model(&models.Sender{}).Where("id = ?", sender.ID).Updates(updates).Error; err != nil {
		return err
	}

	sender.SentToday = sentToday + count
	sender.TotalSent += count
	sender.LastResetDate = resetDate
	sender.LastUsedAt = &now
	return nil
}

// RecordError marks the account errored with the failure message. There is no
// auto-recovery; the owner has to re-verify or re-authenticate the account.
func RecordError(db *gorm.DB, senderID uint, message string) {
	now := time.Now()
	if err := db.Model(&models.Sender{}).Where("id = ?", senderID).
		Updates(map[string]interface{}{
			"status":        models.SenderStatusError,
			"last_error":    message,
			"last_error_at": now,
		}).Error; err != nil {
		LogError("sender_record_error_failed", err, map[string]interface{}{
			"sender_id": senderID,
		})
	}
}

// MarkNeedsReauth flags an OAuth account whose refresh token no longer works.
func MarkNeedsReauth(db *gorm.DB, senderID uint, message string) {
	now := time.Now()
	if err := db.Model(&models.Sender{}).Where("id = ?", senderID).
		Updates(map[string]interface{}{
			"status":        models.SenderStatusNeedsReauth,
			"last_error":    message,
			"last_error_at": now,
		}).Error; err != nil {
		LogError("sender_mark_reauth_failed", err, map[string]interface{}{
			"sender_id": senderID,
		})
	}
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
