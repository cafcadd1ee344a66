package stores

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ChandlerPotter/go-auth/internal/models"
)

// RefreshTokenStore persists refresh token records keyed by fingerprint.
// Rotate is the only compound operation and must be atomic per fingerprint.
type RefreshTokenStore interface {
	// Create inserts a non-revoked record. ErrConflict if the fingerprint exists.
	Create(ctx context.Context, userID uint, fingerprint string, expiresAt time.Time) (*models.RefreshToken, error)
	// FindByFingerprint returns the record or ErrNotFound.
	FindByFingerprint(ctx context.Context, fingerprint string) (*models.RefreshToken, error)
	// Revoke flips one record to revoked. Unknown or already revoked ids are not an error.
	Revoke(ctx context.Context, id uuid.UUID, reason string) error
	// RevokeAllForUser revokes every live record of the user and reports how many flipped.
	RevokeAllForUser(ctx context.Context, userID uint, reason string) (int64, error)
	// Rotate consumes the record behind oldFingerprint and inserts its successor.
	// Fails with ErrNotFound, ErrReuseDetected, ErrExpired or ErrConflict and
	// commits nothing in that case.
	Rotate(ctx context.Context, oldFingerprint string, userID uint, newFingerprint string, newExpiresAt time.Time) (*models.RefreshToken, error)
}
