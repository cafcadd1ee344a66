package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/ChandlerPotter/go-auth/internal/models"
)

type UserStore struct{ mock.Mock }

func (m *UserStore) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *UserStore) FindByID(ctx context.Context, id uint) (*models.User, error) {
	a := m.Called(ctx, id)
	if a.Get(0) == nil {
		return nil, a.Error(1)
	}
	return a.Get(0).(*models.User), a.Error(1)
}

func (m *UserStore) CreateUser(ctx context.Context, u *models.User) error {
	return m.Called(ctx, u).Error(0)
}

func (m *UserStore) UpdateUser(ctx context.Context, u *models.User) error {
	return m.Called(ctx, u).Error(0)
}
