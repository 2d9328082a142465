package controller

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"gopkg.in/gomail.v2"
	"gorm.io/gorm"

	"mailburst/models"
	"mailburst/utils"
)

type SenderController struct {
	DB     *gorm.DB
	Codes  *utils.TTLStore
	Logger *log.Logger
}

func NewSenderController(db *gorm.DB, logger *log.Logger) *SenderController {
	return &SenderController{
		DB:     db,
		Codes:  utils.NewTTLStore("sender-verify"),
		Logger: logger,
	}
}

type CreateSenderRequest struct {
	Slot         int    `json:"slot" validate:"required,min=1,max=5"`
	FromEmail    string `json:"from_email" validate:"required,email"`
	FromName     string `json:"from_name" validate:"required"`
	Signature    string `json:"signature"`
	SMTPHost     string `json:"smtp_host" validate:"required"`
	SMTPPort     int    `json:"smtp_port" validate:"required"`
	SMTPPassword string `json:"smtp_password" validate:"required"`
	SMTPSecure   bool   `json:"smtp_secure"`
	DailyLimit   int    `json:"daily_limit"`
}

// CreateSender registers a password-based SMTP account. It starts inactive
// and unverified; the owner has to pass verification before the account can
// be selected for sending. OAuth accounts are created by the OAuth callback
// instead.
func (sc *SenderController) CreateSender(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var req CreateSenderRequest
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

	var existing models.Sender
	if err := sc.DB.Where("user_id = ? AND slot = ?", user.ID, req.Slot).First(&existing).Error; err == nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": fmt.Sprintf("Slot %d is already in use", req.Slot),
		})
	}

	encryptedPassword, err := utils.EncryptIfNeeded(req.SMTPPassword)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to encrypt SMTP password",
		})
	}

	dailyLimit := req.DailyLimit
	if dailyLimit == 0 {
		dailyLimit = models.DefaultDailyLimit(models.ProviderSMTP)
	}

	sender := models.Sender{
		UserID:        user.ID,
		Slot:          req.Slot,
		Provider:      models.ProviderSMTP,
		AuthMode:      models.AuthModePassword,
		FromEmail:     req.FromEmail,
		FromName:      req.FromName,
		Signature:     req.Signature,
		SMTPHost:      req.SMTPHost,
		SMTPPort:      req.SMTPPort,
		SMTPPassword:  encryptedPassword,
		SMTPSecure:    req.SMTPSecure,
		Status:        models.SenderStatusInactive,
		IsVerified:    false,
		DailyLimit:    dailyLimit,
		LastResetDate: time.Now(),
	}

	if err := sc.DB.Create(&sender).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create sender",
		})
	}

	sender.Sanitize()
	return c.Status(fiber.StatusCreated).JSON(sender)
}

func (sc *SenderController) GetSenders(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var senders []models.Sender
	if err := sc.DB.Where("user_id = ?", user.ID).Order("slot ASC").Find(&senders).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch senders",
		})
	}

	for i := range senders {
		senders[i].Sanitize()
	}
	return c.JSON(senders)
}

func (sc *SenderController) GetSender(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	sender, err := sc.findOwned(c, user)
	if err != nil {
		return err
	}

	sender.Sanitize()
	return c.JSON(sender)
}

func (sc *SenderController) DeleteSender(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	sender, err := sc.findOwned(c, user)
	if err != nil {
		return err
	}

	if err := sc.DB.Delete(sender).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete sender",
		})
	}

	utils.LogEvent("sender_deleted", map[string]interface{}{
		"user_id":   user.ID,
		"sender_id": sender.ID,
	})
	return c.SendStatus(fiber.StatusNoContent)
}

// StartVerification proves the stored SMTP credentials work by sending a
// one-time code through the account itself, to the owner's address.
func (sc *SenderController) StartVerification(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	sender, err := sc.findOwned(c, user)
	if err != nil {
		return err
	}
	if sender.UsesOAuth() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "OAuth accounts are verified at connection time",
		})
	}

	code, err := utils.GenerateOTP()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to generate verification code",
		})
	}

	if err := sc.sendVerificationEmail(sender, user.Email, code); err != nil {
		utils.RecordError(sc.DB, sender.ID, err.Error())
		utils.LogError("sender_verification_send_failed", err, map[string]interface{}{
			"sender_id": sender.ID,
		})
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "Could not send through this account: " + err.Error(),
		})
	}

	key := fmt.Sprintf("%d", sender.ID)
	if err := sc.Codes.Put(context.Background(), key, code, utils.OTPExpiry); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store verification code",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Verification code sent",
		"sent_to": user.Email,
	})
}

type ConfirmVerificationRequest struct {
	Code string `json:"code" validate:"required,len=6"`
}

// ConfirmVerification consumes the code; a correct one activates the account.
func (sc *SenderController) ConfirmVerification(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	sender, err := sc.findOwned(c, user)
	if err != nil {
		return err
	}

	var req ConfirmVerificationRequest
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

	key := fmt.Sprintf("%d", sender.ID)
	stored, err := sc.Codes.Consume(context.Background(), key)
	if err != nil || stored != req.Code {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid or expired verification code",
		})
	}

	if err := sc.DB.Model(sender).Updates(map[string]interface{}{
		"is_verified": true,
		"status":      models.SenderStatusActive,
		"last_error":  nil,
	}).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update sender",
		})
	}

	utils.LogEvent("sender_verified", map[string]interface{}{
		"user_id":   user.ID,
		"sender_id": sender.ID,
	})
	return c.JSON(fiber.Map{
		"message": "Sender verified",
	})
}

func (sc *SenderController) sendVerificationEmail(sender *models.Sender, toEmail, code string) error {
	password, err := utils.Decrypt(sender.SMTPPassword)
	if err != nil {
		return fmt.Errorf("failed to decrypt SMTP password: %w", err)
	}

	d := gomail.NewDialer(sender.SMTPHost, sender.SMTPPort, sender.FromEmail, password)
	d.SSL = sender.SMTPSecure && sender.SMTPPort == 465

	m := gomail.NewMessage()
	m.SetHeader("From", m.FormatAddress(sender.FromEmail, sender.FromName))
	m.SetHeader("To", toEmail)
	m.SetHeader("Subject", "Confirm your sending account")
	m.SetBody("text/plain", fmt.Sprintf(
		"Your verification code is %s. It expires in %d minutes.",
		code, int(utils.OTPExpiry.Minutes())))

	return utils.RunWithTimeout(context.Background(), utils.SMTPSendTimeout, func() error {
		return d.DialAndSend(m)
	})
}

func (sc *SenderController) findOwned(c *fiber.Ctx, user *models.User) (*models.Sender, error) {
	id := c.Params("id")
	if _, err := strconv.Atoi(id); err != nil {
		return nil, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Sender ID must be numeric",
		})
	}

	var sender models.Sender
	if err := sc.DB.Where("id = ? AND user_id = ?", id, user.ID).First(&sender).Error; err != nil {
		return nil, c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sender not found",
		})
	}
	return &sender, nil
}
