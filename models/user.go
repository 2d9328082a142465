package models

import (
	"gorm.io/gorm"
)

// User is the owner of sender accounts and scheduled mail. Registration and
// session issuance live outside this service; this record only carries what
// the API middleware and ownership checks need.
type User struct {
	gorm.Model

	Email string `gorm:"uniqueIndex;not null" json:"email"`
	Name  string `json:"name"`

	IsActive bool `gorm:"default:true" json:"is_active"`

	// Bumped to invalidate all outstanding tokens for this user
	TokenVersion int `gorm:"default:0" json:"-"`
}
