package models

import (
	"time"

	"gorm.io/gorm"
)

// Provider families a sender account can belong to
const (
	ProviderGmail   = "gmail"
	ProviderOutlook = "outlook"
	ProviderYahoo   = "yahoo"
	ProviderSMTP    = "smtp"
)

// Authentication modes
const (
	AuthModeOAuth    = "oauth"
	AuthModePassword = "password"
)

// Sender account lifecycle states
const (
	SenderStatusActive      = "active"
	SenderStatusInactive    = "inactive"
	SenderStatusError       = "error"
	SenderStatusNeedsReauth = "needs_reauth"
)

// MaxSenderSlots is the number of sender accounts a user may register
const MaxSenderSlots = 5

// DefaultDailyLimit returns the provider-dependent default send cap.
func DefaultDailyLimit(provider string) int {
	switch provider {
	case ProviderGmail, ProviderYahoo:
		return 500
	case ProviderOutlook:
		return 300
	default:
		return 300
	}
}

// Sender represents one outbound sending identity a user owns. A user holds
// up to MaxSenderSlots of these, one per slot.
type Sender struct {
	gorm.Model
	UserID uint `gorm:"not null;index;uniqueIndex:idx_user_slot" json:"user_id"`
	Slot   int  `gorm:"not null;uniqueIndex:idx_user_slot" json:"slot"`

	Provider string `gorm:"not null" json:"provider"`  // gmail, outlook, yahoo, smtp
	AuthMode string `gorm:"not null" json:"auth_mode"` // oauth, password

	FromEmail string `gorm:"not null" json:"from_email"`
	FromName  string `json:"from_name"`
	Signature string `json:"signature"`

	// ========= OAuth credentials (encrypted in application layer) =========
	OAuthToken        string    `gorm:"column:oauth_token" json:"-"`
	OAuthRefreshToken string    `gorm:"column:oauth_refresh_token" json:"-"`
	OAuthExpiry       time.Time `gorm:"column:oauth_expiry" json:"oauth_expiry"`

	// ========= SMTP configuration (password encrypted) =========
	SMTPHost     string `json:"smtp_host"`
	SMTPPort     int    `json:"smtp_port" gorm:"default:587"`
	SMTPPassword string `json:"-"`
	SMTPSecure   bool   `json:"smtp_secure" gorm:"default:true"` // implicit TLS vs STARTTLS

	// ========= Status & verification =========
	Status     string `gorm:"not null;default:'inactive'" json:"status"`
	IsVerified bool   `gorm:"default:false" json:"is_verified"`

	// ========= Usage metrics =========
	DailyLimit    int        `gorm:"default:500" json:"daily_limit"`
	SentToday     int        `gorm:"default:0" json:"sent_today"`
	LastResetDate time.Time  `json:"last_reset_date"`
	LastUsedAt    *time.Time `json:"last_used_at"`
	TotalSent     int        `gorm:"default:0" json:"total_sent"`

	LastError   *string    `json:"last_error"`
	LastErrorAt *time.Time `json:"last_error_at"`
}

// Sanitize clears credential fields before the record is returned over the API.
func (s *Sender) Sanitize() {
	s.SMTPPassword = ""
	s.OAuthToken = ""
	s.OAuthRefreshToken = ""
}

// UsesOAuth reports whether the account authenticates with an OAuth token
// bundle rather than a stored password.
func (s *Sender) UsesOAuth() bool {
	return s.AuthMode == AuthModeOAuth
}
