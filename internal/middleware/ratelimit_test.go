package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/clinfhir/extractor-api/internal/models"
	"github.com/clinfhir/extractor-api/internal/ratelimit"
)

func newRateLimitedRouter(limit int, user *models.User) *gin.Engine {
	gin.SetMode(gin.TestMode)
	limiter := ratelimit.NewMemoryLimiter(limit, time.Minute)

	router := gin.New()
	router.GET("/", func(c *gin.Context) {
		if user != nil {
			c.Set(ContextUserKey, user)
		}
	}, RateLimit(limiter, nil, zap.NewNop()), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return router
}

func TestRateLimitRejectsOverBudget(t *testing.T) {
	router := newRateLimitedRouter(2, &models.User{ID: "u1", Active: true})

	for i := 0; i < 2; i++ {
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusNoContent, recorder.Code)
	}

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, recorder.Code)
	assert.NotEmpty(t, recorder.Header().Get("Retry-After"))
	assert.Contains(t, recorder.Body.String(), "RATE_LIMITED")
}

func TestRateLimitFallsBackToClientIP(t *testing.T) {
	router := newRateLimitedRouter(1, nil)

	first := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:4000"
	router.ServeHTTP(first, req)
	assert.Equal(t, http.StatusNoContent, first.Code)

	second := httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:4001"
	router.ServeHTTP(second, req)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)

	// A different address keeps its own budget.
	third := httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.2:4000"
	router.ServeHTTP(third, req)
	assert.Equal(t, http.StatusNoContent, third.Code)
}
