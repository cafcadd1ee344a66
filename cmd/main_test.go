package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/ChandlerPotter/go-auth/config"
	handlers "github.com/ChandlerPotter/go-auth/internal/handlers/auth"
	"github.com/ChandlerPotter/go-auth/internal/metrics"
	"github.com/ChandlerPotter/go-auth/internal/token"
)

func TestDependencyGraph(t *testing.T) {
	require.NoError(t, fx.ValidateApp(appOptions()))
}

func TestRouterServesOperationalEndpoints(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := config.Config{AppEnv: "development"}
	reg := newRegistry()
	m := metrics.New(reg)
	access, err := token.NewJWTService([]byte("0123456789abcdef0123456789abcdef"), "go-auth", time.Minute)
	require.NoError(t, err)

	r := newRouter(cfg, handlers.NewAuthHandler(nil, nil, nil, nil, false), access, m, reg, zap.NewNop())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_requests_total")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
