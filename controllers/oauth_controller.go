package controller

import (
	"errors"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/oauth2"
	"gorm.io/gorm"

	"mailburst/models"
	"mailburst/utils"
)

type OAuthController struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewOAuthController(db *gorm.DB, logger *log.Logger) *OAuthController {
	return &OAuthController{DB: db, Logger: logger}
}

type ConnectRequest struct {
	Provider string `json:"provider" validate:"required,oneof=gmail outlook yahoo"`
	Slot     int    `json:"slot" validate:"required,min=1,max=5"`
}

// Connect returns the provider consent URL for the requested slot. The slot
// and owner travel through the redirect inside the signed state parameter.
func (oc *OAuthController) Connect(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var req ConnectRequest
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

	cfg := utils.OAuthConfigFor(req.Provider)
	if cfg == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unsupported provider: " + req.Provider,
		})
	}

	state, err := utils.EncodeOAuthState(user.ID, req.Slot, req.Provider, time.Now())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create state",
		})
	}

	// offline access so we receive a refresh token; prompt=consent forces
	// Google to reissue one for repeat connections.
	url := cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"))

	return c.JSON(fiber.Map{
		"auth_url": url,
	})
}

// Callback handles the provider redirect: it verifies the state, exchanges
// the code, resolves the mailbox address, and upserts the sender at the slot
// the state names. OAuth accounts come out verified and active because the
// provider has already proven ownership.
func (oc *OAuthController) Callback(c *fiber.Ctx) error {
	errParam := c.Query("error")
	if errParam != "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Provider returned an error: " + errParam,
		})
	}

	state, err := utils.DecodeOAuthState(c.Query("state"), time.Now())
	if err != nil {
		status := fiber.StatusBadRequest
		msg := "Invalid state"
		if errors.Is(err, utils.ErrStateExpired) {
			msg = "Authorization took too long, please restart the connection"
		}
		return c.Status(status).JSON(fiber.Map{"error": msg})
	}

	code := c.Query("code")
	if code == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Missing authorization code",
		})
	}

	cfg := utils.OAuthConfigFor(state.Provider)
	if cfg == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unsupported provider: " + state.Provider,
		})
	}

	token, err := cfg.Exchange(c.Context(), code)
	if err != nil {
		utils.LogError("oauth_exchange_failed", err, map[string]interface{}{
			"provider": state.Provider,
			"user_id":  state.UserID,
		})
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "Token exchange failed",
		})
	}

	email, err := utils.FetchOAuthEmail(c.Context(), state.Provider, token)
	if err != nil {
		utils.LogError("oauth_email_lookup_failed", err, map[string]interface{}{
			"provider": state.Provider,
			"user_id":  state.UserID,
		})
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "Could not resolve the account's email address",
		})
	}

	encAccess, err := utils.Encrypt(token.AccessToken)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store credentials",
		})
	}
	encRefresh := ""
	if token.RefreshToken != "" {
		encRefresh, err = utils.Encrypt(token.RefreshToken)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to store credentials",
			})
		}
	}

	var sender models.Sender
	err = oc.DB.Where("user_id = ? AND slot = ?", state.UserID, state.Slot).First(&sender).Error
	isNew := errors.Is(err, gorm.ErrRecordNotFound)
	if err != nil && !isNew {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to look up sender slot",
		})
	}

	sender.UserID = state.UserID
	sender.Slot = state.Slot
	sender.Provider = state.Provider
	sender.AuthMode = models.AuthModeOAuth
	sender.FromEmail = email
	sender.OAuthToken = encAccess
	if encRefresh != "" {
		// keep the previous refresh token when the provider omits one
		sender.OAuthRefreshToken = encRefresh
	}
	sender.OAuthExpiry = token.Expiry
	sender.Status = models.SenderStatusActive
	sender.IsVerified = true
	sender.LastError = nil
	sender.LastErrorAt = nil
	if isNew {
		sender.DailyLimit = models.DefaultDailyLimit(state.Provider)
		sender.LastResetDate = time.Now()
	}
	if sender.FromName == "" {
		sender.FromName = email
	}

	if err := oc.DB.Save(&sender).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to save sender",
		})
	}

	utils.LogEvent("oauth_sender_connected", map[string]interface{}{
		"user_id":   state.UserID,
		"sender_id": sender.ID,
		"provider":  state.Provider,
	})

	sender.Sanitize()
	return c.JSON(fiber.Map{
		"message": "Account connected",
		"sender":  sender,
	})
}
