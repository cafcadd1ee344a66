package mocks

import (
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/ChandlerPotter/go-auth/internal/token"
)

type AccessTokenService struct{ mock.Mock }

func (m *AccessTokenService) Issue(userID uint, role string) (string, time.Time, error) {
	args := m.Called(userID, role)
	return args.String(0), args.Get(1).(time.Time), args.Error(2)
}

func (m *AccessTokenService) Verify(signed string) (*token.Claims, error) {
	args := m.Called(signed)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*token.Claims), args.Error(1)
}
