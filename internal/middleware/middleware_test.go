package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ChandlerPotter/go-auth/internal/metrics"
	"github.com/ChandlerPotter/go-auth/internal/middleware"
	"github.com/ChandlerPotter/go-auth/internal/token"
)

func newJWT(t *testing.T, now func() time.Time) *token.JWTService {
	t.Helper()
	svc, err := token.NewJWTService([]byte("0123456789abcdef0123456789abcdef"), "go-auth", time.Minute, token.WithClock(now))
	require.NoError(t, err)
	return svc
}

func protectedRouter(svc token.AccessTokenService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", middleware.JWTAuthMiddleware(svc), func(c *gin.Context) {
		id, ok := middleware.UserID(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"user_id": id, "role": c.GetString(middleware.ContextRole)})
	})
	return r
}

func TestJWTAuthMiddleware(t *testing.T) {
	svc := newJWT(t, time.Now)
	signed, _, err := svc.Issue(42, "admin")
	require.NoError(t, err)
	r := protectedRouter(svc)

	t.Run("bearer header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer "+signed)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"user_id":42,"role":"admin"}`, w.Body.String())
	})

	t.Run("cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.AddCookie(&http.Cookie{Name: middleware.AccessTokenCookie, Value: signed})
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("missing", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.JSONEq(t, `{"error":"missing access token"}`, w.Body.String())
	})

	t.Run("garbage", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer not.a.jwt")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.JSONEq(t, `{"error":"invalid access token"}`, w.Body.String())
	})
}

func TestJWTAuthMiddlewareExpired(t *testing.T) {
	issuedAt := time.Now().Add(-time.Hour)
	signed, _, err := newJWT(t, func() time.Time { return issuedAt }).Issue(1, "user")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	w := httptest.NewRecorder()
	protectedRouter(newJWT(t, time.Now)).ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error":"access token expired"}`, w.Body.String())
}

func TestMetricsMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := metrics.New(prometheus.NewRegistry())
	r := gin.New()
	r.Use(middleware.Metrics(m))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for i := 0; i < 3; i++ {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ping", nil))
	}
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))

	assert.Equal(t, 3.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/ping", http.MethodGet, "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("unmatched", http.MethodGet, "404")))
}

func TestRequestLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.InfoLevel)
	r := gin.New()
	r.Use(middleware.RequestLogger(zap.New(core)))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ping", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))

	require.Equal(t, 2, logs.Len())
	assert.Equal(t, zapcore.InfoLevel, logs.All()[0].Level)
	assert.Equal(t, int64(200), logs.All()[0].ContextMap()["status"])
	assert.Equal(t, zapcore.WarnLevel, logs.All()[1].Level)
}

func TestMetricsMiddlewareWithoutCollectors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.Metrics(nil))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	w := httptest.NewRecorder()
	assert.NotPanics(t, func() {
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	})
	assert.Equal(t, http.StatusOK, w.Code)
}
