package controller

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/badoux/checkmail"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"mailburst/models"
	"mailburst/queue"
	"mailburst/utils"
	"mailburst/worker"
)

type MailController struct {
	DB      *gorm.DB
	Worker  *worker.MailWorker
	Storage utils.ObjectStorage
	Logger  *log.Logger
}

func NewMailController(db *gorm.DB, mw *worker.MailWorker, storage utils.ObjectStorage, logger *log.Logger) *MailController {
	return &MailController{DB: db, Worker: mw, Storage: storage, Logger: logger}
}

// AttachmentUpload is one file carried base64-encoded in a send request.
type AttachmentUpload struct {
	Name     string `json:"name" validate:"required"`
	MimeType string `json:"mime_type" validate:"required"`
	Data     string `json:"data" validate:"required"`
}

type SendMailRequest struct {
	SenderID       uint               `json:"sender_id"`
	Recipients     []string           `json:"recipients" validate:"required,min=1,dive,email"`
	RecipientNames []string           `json:"recipient_names"`
	Subject        string             `json:"subject" validate:"required"`
	Body           string             `json:"body" validate:"required"`
	Attachments    []AttachmentUpload `json:"attachments"`
}

type ScheduleMailRequest struct {
	SendMailRequest
	SendAt   string `json:"send_at" validate:"required"` // local time, 2006-01-02T15:04
	Timezone string `json:"timezone" validate:"required,timezone_name"`
}

// SendMail validates an immediate bulk send, decides attachment storage and
// hands the message to the queue. Immediate messages are never persisted;
// only the job record exists.
func (mc *MailController) SendMail(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var req SendMailRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := utils.ValidateStruct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if err := validateRecipients(req.Recipients); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	sender, errResp := mc.resolveSender(c, user, req.SenderID)
	if sender == nil {
		return errResp
	}

	attachments, storageMethod, err := mc.prepareAttachments(req.Attachments)
	if err != nil {
		utils.LogError("attachment_prepare_failed", err, map[string]interface{}{
			"user_id": user.ID,
		})
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store attachments",
		})
	}

	jobID, err := mc.Worker.EnqueueBulk(c.Context(), worker.BulkPayload{
		UserID:         user.ID,
		SenderID:       sender.ID,
		Recipients:     req.Recipients,
		RecipientNames: req.RecipientNames,
		Subject:        req.Subject,
		Body:           req.Body,
		Attachments:    attachments,
	})
	if err != nil {
		utils.LogError("bulk_enqueue_failed", err, map[string]interface{}{
			"user_id": user.ID,
		})
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to enqueue send",
		})
	}

	utils.LogEvent("mail_enqueued", map[string]interface{}{
		"user_id":        user.ID,
		"sender_id":      sender.ID,
		"recipients":     len(req.Recipients),
		"storage_method": storageMethod,
	})

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"job_id":         jobID,
		"sender_id":      sender.ID,
		"recipients":     len(req.Recipients),
		"storage_method": storageMethod,
	})
}

// ScheduleMail persists the message and arms a delayed job that fans it out
// at the requested local time.
func (mc *MailController) ScheduleMail(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var req ScheduleMailRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := utils.ValidateStruct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if err := validateRecipients(req.Recipients); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	sendAt, delay, err := utils.ResolveSendTime(req.SendAt, req.Timezone, time.Now())
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	sender, errResp := mc.resolveSender(c, user, req.SenderID)
	if sender == nil {
		return errResp
	}

	attachments, storageMethod, err := mc.prepareAttachments(req.Attachments)
	if err != nil {
		utils.LogError("attachment_prepare_failed", err, map[string]interface{}{
			"user_id": user.ID,
		})
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store attachments",
		})
	}

	mail := models.ScheduledMail{
		UserID:         user.ID,
		SenderID:       sender.ID,
		Recipients:     req.Recipients,
		RecipientNames: req.RecipientNames,
		Subject:        req.Subject,
		Body:           req.Body,
		Attachments:    attachments,
		SendAt:         sendAt,
		Timezone:       req.Timezone,
		Status:         models.MailStatusPending,
	}
	if err := mc.DB.Create(&mail).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to persist scheduled mail",
		})
	}

	jobID, err := mc.Worker.EnqueueScheduled(c.Context(), worker.ScheduledPayload{
		BulkPayload: worker.BulkPayload{
			UserID:         user.ID,
			SenderID:       sender.ID,
			Recipients:     req.Recipients,
			RecipientNames: req.RecipientNames,
			Subject:        req.Subject,
			Body:           req.Body,
			Attachments:    attachments,
		},
		ScheduledMailID: mail.ID,
	}, delay)
	if err != nil {
		utils.LogError("scheduled_enqueue_failed", err, map[string]interface{}{
			"user_id":           user.ID,
			"scheduled_mail_id": mail.ID,
		})
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to enqueue scheduled send",
		})
	}

	utils.LogEvent("mail_scheduled", map[string]interface{}{
		"user_id":           user.ID,
		"scheduled_mail_id": mail.ID,
		"send_at":           sendAt,
		"delay_ms":          delay.Milliseconds(),
		"storage_method":    storageMethod,
	})

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":             mail.ID,
		"job_id":         jobID,
		"send_at":        sendAt,
		"delay_ms":       delay.Milliseconds(),
		"storage_method": storageMethod,
	})
}

func (mc *MailController) ListScheduled(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var mails []models.ScheduledMail
	if err := mc.DB.Where("user_id = ?", user.ID).Order("send_at ASC").Find(&mails).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch scheduled mail",
		})
	}
	return c.JSON(mails)
}

type DeleteScheduledRequest struct {
	IDs []uint `json:"ids" validate:"required,min=1"`
}

// DeleteScheduled removes persisted scheduled messages. The armed queue job
// is deliberately left alone: when it fires, the fan-out handler tolerates
// the missing record and its status update touches nothing.
func (mc *MailController) DeleteScheduled(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var req DeleteScheduledRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := utils.ValidateStruct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	result := mc.DB.Where("id IN ? AND user_id = ?", req.IDs, user.ID).Delete(&models.ScheduledMail{})
	if result.Error != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete scheduled mail",
		})
	}

	return c.JSON(fiber.Map{
		"deleted": result.RowsAffected,
	})
}

// FailedJobs exposes the bounded failed-job history of both queues, limited
// to the requesting user's own jobs.
func (mc *MailController) FailedJobs(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	immediate, err := mc.Worker.Immediate.FailedJobs(c.Context(), 50)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch job history",
		})
	}
	scheduled, err := mc.Worker.Scheduled.FailedJobs(c.Context(), 50)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch job history",
		})
	}

	return c.JSON(fiber.Map{
		"immediate": ownedFailedJobs(immediate, user.ID),
		"scheduled": ownedFailedJobs(scheduled, user.ID),
	})
}

// ownedFailedJobs keeps only the given user's records. Payloads carry
// recipient lists and message bodies, so records that do not name the user,
// or whose payload cannot be read, are dropped.
func ownedFailedJobs(jobs []queue.FailedJob, userID uint) []queue.FailedJob {
	owned := make([]queue.FailedJob, 0, len(jobs))
	for _, job := range jobs {
		var p struct {
			UserID uint `json:"user_id"`
		}
		if err := json.Unmarshal(job.Payload, &p); err != nil || p.UserID != userID {
			continue
		}
		owned = append(owned, job)
	}
	return owned
}

// resolveSender picks the sending account: an explicit sender_id must belong
// to the user and be able to send, otherwise the least-recently-used account
// with capacity is chosen. Capacity exhaustion is surfaced synchronously,
// never enqueued.
func (mc *MailController) resolveSender(c *fiber.Ctx, user *models.User, senderID uint) (*models.Sender, error) {
	if senderID != 0 {
		var sender models.Sender
		if err := mc.DB.Where("id = ? AND user_id = ?", senderID, user.ID).First(&sender).Error; err != nil {
			return nil, c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Sender not found",
			})
		}
		if !utils.CanSend(&sender, time.Now()) {
			return nil, c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "no available sending capacity",
				"code":  "capacity_exhausted",
			})
		}
		return &sender, nil
	}

	sender, err := utils.SelectSender(mc.DB, user.ID)
	if err != nil {
		if errors.Is(err, utils.ErrNoCapacity) {
			return nil, c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "no available sending capacity",
				"code":  "capacity_exhausted",
			})
		}
		return nil, c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to select sender",
		})
	}
	return sender, nil
}

func (mc *MailController) prepareAttachments(uploads []AttachmentUpload) ([]models.Attachment, string, error) {
	files := make([]utils.IncomingFile, 0, len(uploads))
	for _, up := range uploads {
		data, err := base64.StdEncoding.DecodeString(up.Data)
		if err != nil {
			return nil, utils.StorageMethodNone, err
		}
		files = append(files, utils.IncomingFile{
			Name:     up.Name,
			MimeType: up.MimeType,
			Data:     data,
		})
	}
	return utils.PrepareAttachments(mc.Storage, files)
}

func validateRecipients(recipients []string) error {
	for _, addr := range recipients {
		if err := checkmail.ValidateFormat(addr); err != nil {
			return errors.New("invalid recipient address: " + addr)
		}
	}
	return nil
}
