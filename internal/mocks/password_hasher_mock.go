package mocks

import (
	"github.com/stretchr/testify/mock"
)

type PasswordHasher struct{ mock.Mock }

func (m *PasswordHasher) Hash(password []byte) ([]byte, error) {
	args := m.Called(password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *PasswordHasher) Compare(hash, password []byte) error {
	return m.Called(hash, password).Error(0)
}
