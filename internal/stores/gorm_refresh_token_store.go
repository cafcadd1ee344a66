package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ChandlerPotter/go-auth/internal/models"
)

// GormRefreshTokenStore implements RefreshTokenStore using GORM.
type GormRefreshTokenStore struct {
	DB  *gorm.DB
	Now func() time.Time
}

var _ RefreshTokenStore = (*GormRefreshTokenStore)(nil)

func NewGormRefreshTokenStore(db *gorm.DB) *GormRefreshTokenStore {
	return &GormRefreshTokenStore{DB: db, Now: time.Now}
}

func (s *GormRefreshTokenStore) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s *GormRefreshTokenStore) Create(ctx context.Context, userID uint, fingerprint string, expiresAt time.Time) (*models.RefreshToken, error) {
	rt := &models.RefreshToken{
		TokenHash: fingerprint,
		UserID:    userID,
		ExpiresAt: expiresAt,
	}
	if err := s.DB.WithContext(ctx).Omit(clause.Associations).Create(rt).Error; err != nil {
		if isDuplicateKey(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("create refresh token: %w", err)
	}
	return rt, nil
}

func (s *GormRefreshTokenStore) FindByFingerprint(ctx context.Context, fingerprint string) (*models.RefreshToken, error) {
	var rt models.RefreshToken
	err := s.DB.WithContext(ctx).
		Preload("User.Role").
		Where("token_hash = ?", fingerprint).
		First(&rt).Error
	if err != nil {
		return nil, translateNotFound(err, "find refresh token")
	}
	return &rt, nil
}

func (s *GormRefreshTokenStore) Revoke(ctx context.Context, id uuid.UUID, reason string) error {
	err := s.DB.WithContext(ctx).Model(&models.RefreshToken{}).
		Where("id = ? AND revoked = ?", id, false).
		Updates(s.revokedColumns(reason)).Error
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

func (s *GormRefreshTokenStore) RevokeAllForUser(ctx context.Context, userID uint, reason string) (int64, error) {
	res := s.DB.WithContext(ctx).Model(&models.RefreshToken{}).
		Where("user_id = ? AND revoked = ?", userID, false).
		Updates(s.revokedColumns(reason))
	if res.Error != nil {
		return 0, fmt.Errorf("revoke user refresh tokens: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *GormRefreshTokenStore) Rotate(
	ctx context.Context,
	oldFingerprint string,
	userID uint,
	newFingerprint string,
	newExpiresAt time.Time,
) (*models.RefreshToken, error) {
	var out *models.RefreshToken

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rt models.RefreshToken
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("token_hash = ?", oldFingerprint).
			First(&rt).Error; err != nil {
			return translateNotFound(err, "lock refresh token")
		}

		if rt.UserID != userID {
			return ErrNotFound
		}
		if rt.Revoked {
			return ErrReuseDetected
		}
		now := s.now()
		if rt.ExpiredAt(now) {
			return ErrExpired
		}

		// Compare-and-swap so a dialect without row locks still admits one winner.
		res := tx.Model(&models.RefreshToken{}).
			Where("id = ? AND revoked = ?", rt.ID, false).
			Updates(s.revokedColumns(models.RevokeReasonRotated))
		if res.Error != nil {
			return fmt.Errorf("revoke rotated token: %w", res.Error)
		}
		if res.RowsAffected != 1 {
			return ErrReuseDetected
		}

		next := models.RefreshToken{
			TokenHash: newFingerprint,
			UserID:    rt.UserID,
			ExpiresAt: newExpiresAt,
		}
		if err := tx.Omit(clause.Associations).Create(&next).Error; err != nil {
			if isDuplicateKey(err) {
				return ErrConflict
			}
			return fmt.Errorf("create rotated token: %w", err)
		}

		out = &next
		return nil
	})
	if err != nil {
		if isSentinel(err) {
			return nil, err
		}
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}
	return out, nil
}

func (s *GormRefreshTokenStore) revokedColumns(reason string) map[string]any {
	return map[string]any{
		"revoked":       true,
		"revoked_at":    s.now(),
		"revoke_reason": reason,
	}
}

func isSentinel(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrReuseDetected) ||
		errors.Is(err, ErrExpired)
}
