package config

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

const (
	StorePostgres = "postgres"
	StoreRedis    = "redis"

	minJWTSecretBytes     = 32
	minRefreshSecretBytes = 32
)

type Config struct {
	AppEnv string `env:"APP_ENV" env-default:"production"`
	Port   string `env:"PORT" env-default:"8080"`

	DBHost     string `env:"DB_HOST" env-default:"localhost"`
	DBUser     string `env:"DB_USER" env-default:"postgres"`
	DBPassword string `env:"DB_PASSWORD"`
	DBName     string `env:"DB_NAME" env-default:"go_auth"`
	DBPort     string `env:"DB_PORT" env-default:"5432"`
	DBSSLMode  string `env:"DB_SSLMODE" env-default:"disable"`

	JWTSecret      string        `env:"JWT_SECRET"`
	JWTIssuer      string        `env:"JWT_ISSUER" env-default:"go-auth"`
	AccessTokenTTL time.Duration `env:"ACCESS_TOKEN_TTL" env-default:"15m"`

	RefreshTokenTTL    time.Duration `env:"REFRESH_TOKEN_TTL" env-default:"168h"`
	RefreshTokenBytes  int           `env:"REFRESH_TOKEN_BYTES" env-default:"32"`
	RefreshTokenPepper string        `env:"REFRESH_TOKEN_PEPPER"`
	TokenStore         string        `env:"TOKEN_STORE" env-default:"postgres"`

	RedisAddr     string `env:"REDIS_ADDR" env-default:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" env-default:"0"`
	RedisPrefix   string `env:"REDIS_PREFIX" env-default:"auth"`

	// NATSURL enables publishing of security events when set.
	NATSURL     string `env:"NATS_URL"`
	NATSSubject string `env:"NATS_SUBJECT" env-default:"auth.security"`
}

// Load reads a .env file if one exists, then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading it")
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	} else if len(c.JWTSecret) < minJWTSecretBytes {
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least %d bytes", minJWTSecretBytes))
	}
	if c.AccessTokenTTL <= 0 {
		errs = append(errs, errors.New("ACCESS_TOKEN_TTL must be positive"))
	}
	if c.RefreshTokenTTL <= 0 {
		errs = append(errs, errors.New("REFRESH_TOKEN_TTL must be positive"))
	}
	if c.RefreshTokenBytes < minRefreshSecretBytes {
		errs = append(errs, fmt.Errorf("REFRESH_TOKEN_BYTES must be at least %d", minRefreshSecretBytes))
	}
	switch c.TokenStore {
	case StorePostgres, StoreRedis:
	default:
		errs = append(errs, fmt.Errorf("TOKEN_STORE %q is not one of %s, %s", c.TokenStore, StorePostgres, StoreRedis))
	}
	return errors.Join(errs...)
}

func (c Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// DSN builds the postgres connection string.
func (c Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort, c.DBSSLMode,
	)
}
