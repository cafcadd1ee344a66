package database

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ChandlerPotter/go-auth/config"
	"github.com/ChandlerPotter/go-auth/internal/models"
)

// ConnectDB opens the PostgreSQL connection described by cfg and checks it.
func ConnectDB(ctx context.Context, cfg config.Config, log *zap.Logger) (*gorm.DB, error) {
	log.Info("connecting to database",
		zap.String("host", cfg.DBHost),
		zap.String("port", cfg.DBPort),
		zap.String("user", cfg.DBUser),
		zap.String("dbname", cfg.DBName))

	gormLogger := logger.Default.LogMode(logger.Warn)
	if cfg.IsDevelopment() {
		gormLogger = logger.Default.LogMode(logger.Info)
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		TranslateError: true,
		Logger:         gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Info("database connection established")
	return db, nil
}

// ProcessMigrations brings the schema up to date and seeds the fixed roles.
func ProcessMigrations(db *gorm.DB, log *zap.Logger) error {
	err := db.AutoMigrate(
		&models.Role{},
		&models.User{},
		&models.RefreshToken{})
	if err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	for _, role := range models.DefaultRoles() {
		if err := db.FirstOrCreate(&role, models.Role{ID: role.ID}).Error; err != nil {
			return fmt.Errorf("seed role %s: %w", role.Name, err)
		}
	}

	log.Info("database migrations complete")
	return nil
}
