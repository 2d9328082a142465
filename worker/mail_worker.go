package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"

	"mailburst/models"
	"mailburst/queue"
	"mailburst/utils"
)

// Job kinds
const (
	KindBulk      = "bulk"
	KindScheduled = "scheduled"
	KindSingle    = "single"
)

// Queue names
const (
	ImmediateQueue = "mailer"
	ScheduledQueue = "mailer-scheduled"
)

// Backoff bases per queue
const (
	ImmediateBackoff = 5 * time.Second
	ScheduledBackoff = 10 * time.Second
)

// FallbackName greets recipients whose display name is unknown.
const FallbackName = "there"

// BulkPayload fans out one single job per recipient.
type BulkPayload struct {
	UserID         uint                `json:"user_id"`
	SenderID       uint                `json:"sender_id"`
	Recipients     []string            `json:"recipients"`
	RecipientNames []string            `json:"recipient_names,omitempty"`
	Subject        string              `json:"subject"`
	Body           string              `json:"body"`
	Attachments    []models.Attachment `json:"attachments,omitempty"`
}

// ScheduledPayload is a BulkPayload bound to a persisted scheduled-mail
// record whose status flips to sent once fan-out succeeds.
type ScheduledPayload struct {
	BulkPayload
	ScheduledMailID uint `json:"scheduled_mail_id"`
}

// SinglePayload delivers one email to one recipient.
type SinglePayload struct {
	UserID        uint                `json:"user_id"`
	SenderID      uint                `json:"sender_id"`
	Recipient     string              `json:"recipient"`
	RecipientName string              `json:"recipient_name,omitempty"`
	Subject       string              `json:"subject"`
	Body          string              `json:"body"`
	Attachments   []models.Attachment `json:"attachments,omitempty"`
}

// MailWorker owns the two queues and the delivery handlers behind them.
type MailWorker struct {
	DB        *gorm.DB
	Redis     *redis.Client
	Storage   utils.ObjectStorage
	Immediate *queue.Queue
	Scheduled *queue.Queue
	Logger    *log.Logger
}

func NewMailWorker(db *gorm.DB, rdb *redis.Client, storage utils.ObjectStorage, logger *log.Logger) *MailWorker {
	return &MailWorker{
		DB:      db,
		Redis:   rdb,
		Storage: storage,
		Immediate: queue.New(ImmediateQueue, rdb, queue.Config{
			Backoff: ImmediateBackoff,
		}),
		Scheduled: queue.New(ScheduledQueue, rdb, queue.Config{
			Backoff: ScheduledBackoff,
		}),
		Logger: logger,
	}
}

// Start runs both queue workers until the context is cancelled. The
// immediate queue gives singles five slots and bulk fan-out two; scheduled
// fan-out is infrequent and gets a small default pool.
func (mw *MailWorker) Start(ctx context.Context) {
	immediate := queue.NewWorker(mw.Immediate, mw.Logger)
	immediate.Handle(KindSingle, 5, mw.handleSingle)
	immediate.Handle(KindBulk, 2, mw.handleBulk)

	scheduled := queue.NewWorker(mw.Scheduled, mw.Logger)
	scheduled.Handle(KindScheduled, 3, mw.handleScheduled)

	go immediate.Start(ctx)
	go scheduled.Start(ctx)

	<-ctx.Done()
}

// EnqueueBulk arms an immediate bulk send.
func (mw *MailWorker) EnqueueBulk(ctx context.Context, payload BulkPayload) (string, error) {
	return mw.Immediate.Enqueue(ctx, KindBulk, payload, queue.Options{})
}

// EnqueueScheduled arms a scheduled send to fire after delay.
func (mw *MailWorker) EnqueueScheduled(ctx context.Context, payload ScheduledPayload, delay time.Duration) (string, error) {
	return mw.Scheduled.Enqueue(ctx, KindScheduled, payload, queue.Options{Delay: delay})
}

// handleBulk creates one single job per recipient and completes without
// waiting on any of them.
func (mw *MailWorker) handleBulk(ctx context.Context, job *queue.Job) error {
	var payload BulkPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("bad bulk payload: %w", err)
	}

	if err := mw.fanOut(ctx, payload, queue.PriorityHigh); err != nil {
		return err
	}

	mw.Logger.Printf("bulk job %s fanned out %d recipients", job.ID, len(payload.Recipients))
	return nil
}

// handleScheduled fires when the delay elapses: it resolves the sender's
// signature, appends it once, fans out singles, then marks the persisted
// record sent. "Sent" means handed to the per-recipient pipeline, not
// delivered; and a record deleted by its owner in the meantime makes the
// update a harmless no-op.
func (mw *MailWorker) handleScheduled(ctx context.Context, job *queue.Job) error {
	var payload ScheduledPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("bad scheduled payload: %w", err)
	}

	var sender models.Sender
	err := mw.DB.First(&sender, payload.SenderID).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("load sender: %w", err)
	}
	if err == nil {
		payload.Body = appendSignature(payload.Body, sender.Signature)
	}

	if err := mw.fanOut(ctx, payload.BulkPayload, queue.PriorityNormal); err != nil {
		return err
	}

	result := mw.DB.Model(&models.ScheduledMail{}).
		Where("id = ?", payload.ScheduledMailID).
		Update("status", models.MailStatusSent)
	if result.Error != nil {
		utils.LogError("scheduled_status_update_failed", result.Error, map[string]interface{}{
			"scheduled_mail_id": payload.ScheduledMailID,
		})
	} else if result.RowsAffected == 0 {
		mw.Logger.Printf("scheduled mail %d already deleted, fan-out discarded status update", payload.ScheduledMailID)
	}

	mw.Logger.Printf("scheduled job %s fanned out %d recipients", job.ID, len(payload.Recipients))
	return nil
}

func (mw *MailWorker) fanOut(ctx context.Context, payload BulkPayload, priority int) error {
	for _, single := range buildSingles(payload) {
		if _, err := mw.Immediate.Enqueue(ctx, KindSingle, single, queue.Options{Priority: priority}); err != nil {
			return fmt.Errorf("fan out to %s: %w", single.Recipient, err)
		}
	}
	return nil
}

// buildSingles splits a bulk payload into its per-recipient jobs. A name
// list that does not match the recipient list is treated as absent.
func buildSingles(payload BulkPayload) []SinglePayload {
	names := payload.RecipientNames
	if len(names) != len(payload.Recipients) {
		names = nil
	}

	singles := make([]SinglePayload, 0, len(payload.Recipients))
	for i, recipient := range payload.Recipients {
		single := SinglePayload{
			UserID:      payload.UserID,
			SenderID:    payload.SenderID,
			Recipient:   recipient,
			Subject:     payload.Subject,
			Body:        payload.Body,
			Attachments: payload.Attachments,
		}
		if names != nil {
			single.RecipientName = names[i]
		}
		singles = append(singles, single)
	}
	return singles
}

// appendSignature attaches the sender's signature below the body. The
// signature is read at fire time, not at schedule time, so edits made while
// a mail waits take effect.
func appendSignature(body, signature string) string {
	if signature == "" {
		return body
	}
	return body + "<br><br>" + signature
}

// personalize fills the {{name}} placeholder, greeting unknown recipients
// with FallbackName.
func personalize(body, recipientName string) string {
	name := recipientName
	if name == "" {
		name = FallbackName
	}
	return strings.ReplaceAll(body, "{{name}}", name)
}

// handleSingle executes one delivery: quota gate, attachment resolution,
// transport send, then counters and best-effort history.
func (mw *MailWorker) handleSingle(ctx context.Context, job *queue.Job) error {
	var payload SinglePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("bad single payload: %w", err)
	}

	var sender models.Sender
	if err := mw.DB.First(&sender, payload.SenderID).Error; err != nil {
		return fmt.Errorf("load sender %d: %w", payload.SenderID, err)
	}

	if !utils.CanSend(&sender, time.Now()) {
		return fmt.Errorf("sender %d cannot send (status=%s, sent_today=%d/%d)",
			sender.ID, sender.Status, sender.SentToday, sender.DailyLimit)
	}

	attachments, err := utils.ResolveAttachments(mw.Storage, payload.Attachments)
	if err != nil {
		return err
	}

	body := personalize(payload.Body, payload.RecipientName)

	mail := utils.OutgoingMail{
		To:          payload.Recipient,
		ToName:      payload.RecipientName,
		Subject:     payload.Subject,
		Body:        body,
		Attachments: attachments,
	}

	transport := utils.TransportFor(mw.DB, sender.Provider)
	result, err := transport.Send(ctx, &sender, mail)
	if err != nil {
		if errors.Is(err, utils.ErrTokenRefresh) {
			utils.MarkNeedsReauth(mw.DB, sender.ID, err.Error())
		} else {
			utils.RecordError(mw.DB, sender.ID, err.Error())
		}
		return err
	}

	if err := utils.IncrementUsage(mw.DB, &sender, 1); err != nil {
		utils.LogError("usage_increment_failed", err, map[string]interface{}{
			"sender_id": sender.ID,
		})
	}

	mw.recordOrganizationHistory(payload, &sender, result)
	mw.publishEvent(ctx, payload.UserID, map[string]interface{}{
		"type":       "mail_sent",
		"recipient":  payload.Recipient,
		"subject":    payload.Subject,
		"message_id": result.MessageID,
		"sent_at":    result.SentAt,
	})

	return nil
}

// recordOrganizationHistory appends a send entry to any organization holding
// the recipient among its contacts. Best-effort: failures are logged and
// never fail the send.
func (mw *MailWorker) recordOrganizationHistory(payload SinglePayload, sender *models.Sender, result *utils.SendResult) {
	orgs, err := models.FindOrganizationsByEmail(mw.DB, payload.UserID, []string{payload.Recipient})
	if err != nil {
		utils.LogError("org_lookup_failed", err, map[string]interface{}{
			"user_id": payload.UserID,
		})
		return
	}

	for _, org := range orgs {
		history := append(org.EmailHistory, models.SendHistoryEntry{
			Subject:     payload.Subject,
			SenderEmail: sender.FromEmail,
			Recipient:   payload.Recipient,
			SentAt:      result.SentAt,
		})
		if err := mw.DB.Model(&models.Organization{}).Where("id = ?", org.ID).
			Update("email_history", history).Error; err != nil {
			utils.LogError("org_history_append_failed", err, map[string]interface{}{
				"organization_id": org.ID,
			})
		}
	}
}

// publishEvent pushes a delivery event onto the owner's event channel for
// the websocket feed. Best-effort.
func (mw *MailWorker) publishEvent(ctx context.Context, userID uint, event map[string]interface{}) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := mw.Redis.Publish(ctx, EventChannel(userID), data).Err(); err != nil {
		mw.Logger.Printf("event publish failed for user %d: %v", userID, err)
	}
}

// EventChannel names the redis pub/sub channel carrying a user's delivery
// events.
func EventChannel(userID uint) string {
	return fmt.Sprintf("mailburst:events:%d", userID)
}
