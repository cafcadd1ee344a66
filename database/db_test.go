package database

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ChandlerPotter/go-auth/internal/models"
)

func TestProcessMigrationsSeedsRolesOnce(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:migrations?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, ProcessMigrations(db, zap.NewNop()))
	require.NoError(t, ProcessMigrations(db, zap.NewNop()))

	var roles []models.Role
	require.NoError(t, db.Order("id").Find(&roles).Error)
	require.Len(t, roles, 2)
	assert.Equal(t, "admin", roles[0].Name)
	assert.Equal(t, "user", roles[1].Name)

	assert.True(t, db.Migrator().HasTable(&models.RefreshToken{}))
	assert.True(t, db.Migrator().HasIndex(&models.RefreshToken{}, "TokenHash"))
}
