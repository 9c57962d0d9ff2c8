package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// Account is a registered identity keyed by a case-insensitive email address.
type Account struct {
	BaseModel

	Username string `gorm:"size:100;not null" json:"username"`
	Email    string `gorm:"size:100;not null" json:"email"`
	EmailKey string `gorm:"size:100;not null;uniqueIndex" json:"-"`
	Password string `gorm:"not null" json:"-"`

	// Reset token fields are set and cleared together.
	ResetTokenHash      *string    `gorm:"size:64;index" json:"-"`
	ResetTokenExpiresAt *time.Time `json:"-"`
}

// TableName keeps the table name stable if the type is renamed.
func (Account) TableName() string {
	return "accounts"
}

// BeforeSave keeps the comparison key in sync with the display email.
func (a *Account) BeforeSave(tx *gorm.DB) error {
	a.EmailKey = EmailKey(a.Email)
	return nil
}

// HasResetToken reports whether a reset token is currently stored.
func (a *Account) HasResetToken() bool {
	return a.ResetTokenHash != nil && a.ResetTokenExpiresAt != nil
}

// SetResetToken stores a token digest and expiry as a pair.
func (a *Account) SetResetToken(hash string, expiresAt time.Time) {
	expiry := expiresAt.UTC()
	a.ResetTokenHash = &hash
	a.ResetTokenExpiresAt = &expiry
}

// ClearResetToken removes both reset token fields.
func (a *Account) ClearResetToken() {
	a.ResetTokenHash = nil
	a.ResetTokenExpiresAt = nil
}

// ResetTokenRedeemableAt reports whether the stored token is still valid at now.
// Expiry is exclusive: a token whose expiry equals now is already dead.
func (a *Account) ResetTokenRedeemableAt(now time.Time) bool {
	if !a.HasResetToken() {
		return false
	}
	return a.ResetTokenExpiresAt.After(now)
}

// EmailKey normalises an email address into its uniqueness key.
func EmailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
