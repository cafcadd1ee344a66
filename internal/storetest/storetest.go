// Package storetest builds throwaway backends for tests: an in-memory SQLite
// database behind GORM and a miniredis server.
package storetest

import (
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ChandlerPotter/go-auth/internal/models"
)

// NewDB opens a migrated in-memory database private to t. The pool is capped
// at one connection, so transactions from concurrent goroutines serialize.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := "file:" + name + "?mode=memory&cache=shared"

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(&models.Role{}, &models.User{}, &models.RefreshToken{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	for _, role := range models.DefaultRoles() {
		if err := db.FirstOrCreate(&role, models.Role{ID: role.ID}).Error; err != nil {
			t.Fatalf("seed role: %v", err)
		}
	}
	return db
}

// NewUser inserts a user with the default role.
func NewUser(t *testing.T, db *gorm.DB, email string) *models.User {
	t.Helper()

	u := &models.User{
		Email:        email,
		DisplayName:  "Test User",
		PasswordHash: "hashed",
		RoleID:       models.ROLE_USER,
	}
	if err := db.Omit("Role").Create(u).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

// NewRedis starts a miniredis server and returns a client connected to it.
func NewRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}
