package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Scheduled mail delivery states
const (
	MailStatusPending = "pending"
	MailStatusSent    = "sent"
	MailStatusFailed  = "failed"
)

// Attachment storage representations
const (
	StoredInline   = "inline"
	StoredExternal = "external"
)

// Attachment is binary content bound to a message. Small payloads travel
// base64-encoded inside the job record; large ones live in object storage and
// are fetched back at delivery time.
type Attachment struct {
	Name      string `json:"name"`
	MimeType  string `json:"mime_type"`
	Size      int64  `json:"size"`
	StoredIn  string `json:"stored_in"` // inline, external
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
	StorageID string `json:"storage_id,omitempty"`
}

// IsExternal reports whether the attachment bytes live in object storage.
// Descriptors written before the stored_in tag existed carry only a URL.
func (a Attachment) IsExternal() bool {
	if a.StoredIn == StoredExternal {
		return true
	}
	return a.StoredIn == "" && strings.HasPrefix(a.URL, "http")
}

// AttachmentList is stored as a jsonb column on scheduled mail records.
type AttachmentList []Attachment

func (l AttachmentList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *AttachmentList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return errors.New("unsupported type for AttachmentList")
	}
}

// StringList is stored as a jsonb column (recipient and name arrays).
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return errors.New("unsupported type for StringList")
	}
}

// ScheduledMail is a persisted future send. Immediate sends are never
// persisted here; they go straight to the queue. Status reaching "sent" means
// the record was fanned out to per-recipient jobs, not that every recipient
// delivery succeeded.
type ScheduledMail struct {
	gorm.Model
	UserID   uint `gorm:"not null;index" json:"user_id"`
	SenderID uint `gorm:"not null;index" json:"sender_id"`

	Recipients     StringList `gorm:"type:jsonb" json:"recipients"`
	RecipientNames StringList `gorm:"type:jsonb" json:"recipient_names"`

	Subject     string         `gorm:"not null" json:"subject"`
	Body        string         `gorm:"not null" json:"body"`
	Attachments AttachmentList `gorm:"type:jsonb" json:"attachments"`

	SendAt   time.Time `gorm:"not null;index" json:"send_at"` // UTC
	Timezone string    `json:"timezone"`

	Status string `gorm:"not null;default:'pending'" json:"status"`
}
