package user

import (
	"errors"
	"fmt"
)

type PasswordHasher interface {
	Hash(password []byte) ([]byte, error)
	Compare(hash, password []byte) error
}

const (
	MinPasswordLength = 8
	// bcrypt ignores everything past 72 bytes.
	MaxPasswordLength = 72
)

var ErrWeakPassword = errors.New("weak password")

// ValidatePassword enforces the length policy accepted at registration.
func ValidatePassword(password string) error {
	switch {
	case len(password) < MinPasswordLength:
		return fmt.Errorf("%w: must be at least %d characters", ErrWeakPassword, MinPasswordLength)
	case len(password) > MaxPasswordLength:
		return fmt.Errorf("%w: must be at most %d bytes", ErrWeakPassword, MaxPasswordLength)
	}
	return nil
}
