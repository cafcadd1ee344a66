package mocks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/ChandlerPotter/go-auth/internal/models"
)

type RefreshTokenStore struct{ mock.Mock }

func (m *RefreshTokenStore) Create(ctx context.Context, userID uint, fingerprint string, expiresAt time.Time) (*models.RefreshToken, error) {
	args := m.Called(ctx, userID, fingerprint, expiresAt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RefreshToken), args.Error(1)
}

func (m *RefreshTokenStore) FindByFingerprint(ctx context.Context, fingerprint string) (*models.RefreshToken, error) {
	args := m.Called(ctx, fingerprint)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RefreshToken), args.Error(1)
}

func (m *RefreshTokenStore) Revoke(ctx context.Context, id uuid.UUID, reason string) error {
	return m.Called(ctx, id, reason).Error(0)
}

func (m *RefreshTokenStore) RevokeAllForUser(ctx context.Context, userID uint, reason string) (int64, error) {
	args := m.Called(ctx, userID, reason)
	return args.Get(0).(int64), args.Error(1)
}

func (m *RefreshTokenStore) Rotate(ctx context.Context, oldFingerprint string, userID uint, newFingerprint string, newExpiresAt time.Time) (*models.RefreshToken, error) {
	args := m.Called(ctx, oldFingerprint, userID, newFingerprint, newExpiresAt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RefreshToken), args.Error(1)
}
