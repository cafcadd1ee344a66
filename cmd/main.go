package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ChandlerPotter/go-auth/config"
	"github.com/ChandlerPotter/go-auth/database"
	"github.com/ChandlerPotter/go-auth/internal/audit"
	handlers "github.com/ChandlerPotter/go-auth/internal/handlers/auth"
	"github.com/ChandlerPotter/go-auth/internal/metrics"
	"github.com/ChandlerPotter/go-auth/internal/middleware"
	"github.com/ChandlerPotter/go-auth/internal/session"
	"github.com/ChandlerPotter/go-auth/internal/stores"
	"github.com/ChandlerPotter/go-auth/internal/token"
	"github.com/ChandlerPotter/go-auth/internal/user"
)

func main() {
	fx.New(appOptions()).Run()
}

func appOptions() fx.Option {
	return fx.Options(
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger}
		}),
		fx.Provide(
			newConfig,
			newLogger,
			newDB,
			newUserStore,
			newRefreshTokenStore,
			newRegistry,
			newMetrics,
			newAccessTokenService,
			newAuditSink,
			newSessionManager,
			newAuthHandler,
			newRouter,
		),
		fx.Invoke(startHTTPServer),
	)
}

func newConfig() (config.Config, error) {
	return config.Load()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.IsDevelopment() {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newDB(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*gorm.DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	db, err := database.ConnectDB(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := database.ProcessMigrations(db, logger); err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})
	return db, nil
}

func newUserStore(db *gorm.DB) stores.UserStore {
	return &stores.GormUserStore{DB: db}
}

func newRefreshTokenStore(lc fx.Lifecycle, cfg config.Config, db *gorm.DB, logger *zap.Logger) (stores.RefreshTokenStore, error) {
	if cfg.TokenStore != config.StoreRedis {
		logger.Info("refresh tokens stored in postgres")
		return stores.NewGormRefreshTokenStore(db), nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return rdb.Close()
		},
	})
	logger.Info("refresh tokens stored in redis", zap.String("addr", cfg.RedisAddr), zap.String("prefix", cfg.RedisPrefix))
	return stores.NewRedisRefreshTokenStore(rdb, cfg.RedisPrefix), nil
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func newMetrics(reg *prometheus.Registry) *metrics.Metrics {
	return metrics.New(reg)
}

func newAccessTokenService(cfg config.Config) (token.AccessTokenService, error) {
	return token.NewJWTService([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.AccessTokenTTL)
}

func newAuditSink(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (audit.Sink, error) {
	sinks := audit.MultiSink{audit.ZapSink{Logger: logger}}
	if cfg.NATSURL == "" {
		return sinks, nil
	}

	nc, err := nats.Connect(cfg.NATSURL, nats.Name("go-auth"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return nc.Drain()
		},
	})
	logger.Info("publishing security events", zap.String("subject", cfg.NATSSubject))
	return append(sinks, audit.NATSSink{Conn: nc, Subject: cfg.NATSSubject, Logger: logger}), nil
}

func newSessionManager(
	cfg config.Config,
	store stores.RefreshTokenStore,
	users stores.UserStore,
	access token.AccessTokenService,
	sink audit.Sink,
	m *metrics.Metrics,
	logger *zap.Logger,
) (*session.Manager, error) {
	return session.New(store, users, access, token.NewHasher([]byte(cfg.RefreshTokenPepper)),
		session.Config{
			SessionDuration: cfg.RefreshTokenTTL,
			SecretBytes:     cfg.RefreshTokenBytes,
		},
		session.WithLogger(logger.Named("session")),
		session.WithMetrics(m),
		session.WithAuditSink(sink),
	)
}

func newAuthHandler(cfg config.Config, users stores.UserStore, sessions *session.Manager, logger *zap.Logger) *handlers.AuthHandler {
	return handlers.NewAuthHandler(users, sessions, user.BcryptHasher{}, logger.Named("http"), !cfg.IsDevelopment())
}

func newRouter(
	cfg config.Config,
	auth *handlers.AuthHandler,
	access token.AccessTokenService,
	m *metrics.Metrics,
	reg *prometheus.Registry,
	logger *zap.Logger,
) *gin.Engine {
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger.Named("http")))
	r.Use(middleware.Metrics(m))

	auth.RegisterRoutes(r, middleware.JWTAuthMiddleware(access))

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "pong"})
	})
	return r
}

func startHTTPServer(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, logger *zap.Logger) {
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				logger.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
