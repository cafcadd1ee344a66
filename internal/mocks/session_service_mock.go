package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/ChandlerPotter/go-auth/internal/models"
	"github.com/ChandlerPotter/go-auth/internal/session"
)

type SessionService struct{ mock.Mock }

func (m *SessionService) StartSession(ctx context.Context, u *models.User) (*session.TokenPair, error) {
	args := m.Called(ctx, u)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*session.TokenPair), args.Error(1)
}

func (m *SessionService) Refresh(ctx context.Context, raw string) (*session.TokenPair, error) {
	args := m.Called(ctx, raw)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*session.TokenPair), args.Error(1)
}

func (m *SessionService) Revoke(ctx context.Context, raw string) error {
	return m.Called(ctx, raw).Error(0)
}

func (m *SessionService) RevokeAll(ctx context.Context, userID uint) error {
	return m.Called(ctx, userID).Error(0)
}
