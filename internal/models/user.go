package models

import (
	"time"

	"gorm.io/gorm"
)

// User represents the users table in database.
type User struct {
	ID           uint   `gorm:"primaryKey"`
	Email        string `gorm:"uniqueIndex;size:320;not null"`
	DisplayName  string `gorm:"size:255"`
	PasswordHash string `gorm:"not null"`
	RoleID       uint
	Role         Role `gorm:"foreignKey:RoleID"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    gorm.DeletedAt `gorm:"index"` // for soft deletes
}

// RoleName returns the name of the preloaded role, or "" when it was not loaded.
func (u *User) RoleName() string {
	if u == nil {
		return ""
	}
	return u.Role.Name
}
