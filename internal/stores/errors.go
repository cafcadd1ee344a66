package stores

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrConflict      = errors.New("refresh token fingerprint already exists")
	ErrReuseDetected = errors.New("refresh token reuse detected")
	ErrExpired       = errors.New("refresh token expired")
)

// isDuplicateKey recognises unique violations whether or not the dialector
// translates them into gorm.ErrDuplicatedKey.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "duplicate key") ||
		strings.Contains(s, "unique constraint") ||
		strings.Contains(s, "sqlstate 23505")
}
