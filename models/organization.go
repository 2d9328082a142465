package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

// SendHistoryEntry is one line of outbound history recorded against an
// organization whose contact received a message.
type SendHistoryEntry struct {
	Subject     string    `json:"subject"`
	SenderEmail string    `json:"sender_email"`
	Recipient   string    `json:"recipient"`
	SentAt      time.Time `json:"sent_at"`
}

// SendHistory is stored as a jsonb column, append-only.
type SendHistory []SendHistoryEntry

func (h SendHistory) Value() (driver.Value, error) {
	if h == nil {
		return "[]", nil
	}
	b, err := json.Marshal(h)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (h *SendHistory) Scan(value interface{}) error {
	if value == nil {
		*h = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, h)
	case string:
		return json.Unmarshal([]byte(v), h)
	default:
		return errors.New("unsupported type for SendHistory")
	}
}

// Organization is a recipient-side company record. Delivery appends send
// history here on a best-effort basis; the record itself is managed elsewhere.
type Organization struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	Name          string      `gorm:"not null" json:"name"`
	ContactEmails StringList  `gorm:"type:jsonb" json:"contact_emails"`
	EmailHistory  SendHistory `gorm:"type:jsonb" json:"email_history"`
}

// FindOrganizationsByEmail returns the owner's organizations having any of
// the given addresses among their contact emails.
func FindOrganizationsByEmail(db *gorm.DB, userID uint, addresses []string) ([]Organization, error) {
	if len(addresses) == 0 {
		return nil, nil
	}
	wanted := make(map[string]bool, len(addresses))
	for _, addr := range addresses {
		wanted[strings.ToLower(addr)] = true
	}

	var all []Organization
	if err := db.Where("user_id = ?", userID).Find(&all).Error; err != nil {
		return nil, err
	}

	var matched []Organization
	for _, org := range all {
		for _, contact := range org.ContactEmails {
			if wanted[strings.ToLower(contact)] {
				matched = append(matched, org)
				break
			}
		}
	}
	return matched, nil
}
