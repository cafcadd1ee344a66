package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Reasons recorded when a refresh token is revoked.
const (
	RevokeReasonRotated       = "rotated"
	RevokeReasonLogout        = "logout"
	RevokeReasonLogoutAll     = "logout_all"
	RevokeReasonReuseDetected = "reuse_detected"
	RevokeReasonExpired       = "expired"
)

// RefreshToken is one issued session credential. Only the fingerprint of the
// raw secret is stored. Rows are never deleted; Revoked only goes false→true.
type RefreshToken struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	TokenHash    string    `gorm:"size:64;uniqueIndex;not null"`
	UserID       uint      `gorm:"index;not null"`
	User         User      `gorm:"foreignKey:UserID"`
	Revoked      bool      `gorm:"not null;default:false"`
	RevokedAt    *time.Time
	RevokeReason string    `gorm:"size:32"`
	ExpiresAt    time.Time `gorm:"index;not null"`
	CreatedAt    time.Time
}

func (rt *RefreshToken) BeforeCreate(*gorm.DB) error {
	if rt.ID == uuid.Nil {
		rt.ID = uuid.New()
	}
	return nil
}

// ExpiredAt reports whether the token is no longer usable at now.
// A token is valid strictly before ExpiresAt.
func (rt *RefreshToken) ExpiredAt(now time.Time) bool {
	return !now.Before(rt.ExpiresAt)
}
