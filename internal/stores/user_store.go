package stores

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/ChandlerPotter/go-auth/internal/models"
)

// UserStore abstracts user persistence.
type UserStore interface {
	// FindByEmail returns a user if it exists, or ErrNotFound.
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	// FindByID returns a user if it exists, or ErrNotFound.
	FindByID(ctx context.Context, id uint) (*models.User, error)
	// CreateUser persists a new user.
	CreateUser(ctx context.Context, u *models.User) error
	UpdateUser(ctx context.Context, u *models.User) error
}

var ErrEmailTaken = errors.New("email already registered")

// GormUserStore implements UserStore using GORM.
type GormUserStore struct{ DB *gorm.DB }

var _ UserStore = (*GormUserStore)(nil)

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *GormUserStore) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	err := s.DB.WithContext(ctx).Preload("Role").Where("email = ?", NormalizeEmail(email)).First(&u).Error
	if err != nil {
		return nil, translateNotFound(err, "find user by email")
	}
	return &u, nil
}

func (s *GormUserStore) FindByID(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	if err := s.DB.WithContext(ctx).Preload("Role").First(&u, id).Error; err != nil {
		return nil, translateNotFound(err, "find user by id")
	}
	return &u, nil
}

func (s *GormUserStore) CreateUser(ctx context.Context, u *models.User) error {
	u.Email = NormalizeEmail(u.Email)
	if err := s.DB.WithContext(ctx).Omit("Role").Create(u).Error; err != nil {
		if isDuplicateKey(err) {
			return ErrEmailTaken
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *GormUserStore) UpdateUser(ctx context.Context, u *models.User) error {
	u.Email = NormalizeEmail(u.Email)
	res := s.DB.WithContext(ctx).Model(u).Select("Email", "DisplayName", "PasswordHash", "RoleID").Updates(u)
	if res.Error != nil {
		if isDuplicateKey(res.Error) {
			return ErrEmailTaken
		}
		return fmt.Errorf("update user: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func translateNotFound(err error, op string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}
