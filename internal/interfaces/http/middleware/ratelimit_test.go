package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/domain/entitlement"
	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func newTestLimiter(t *testing.T, limit int, per time.Duration) (*RateLimiter, *time.Time) {
	t.Helper()
	rl := NewRateLimiter(limit, per)
	t.Cleanup(rl.Stop)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	return rl, &now
}

func TestRateLimiter(t *testing.T) {
	t.Run("blocks requests exceeding limit", func(t *testing.T) {
		limiter, _ := newTestLimiter(t, 3, time.Minute)

		for i := 0; i < 3; i++ {
			assert.True(t, limiter.Allow("client"), "request %d should be allowed", i+1)
		}
		assert.False(t, limiter.Allow("client"))
		assert.Zero(t, limiter.Remaining("client"))
	})

	t.Run("separate limits per client", func(t *testing.T) {
		limiter, _ := newTestLimiter(t, 1, time.Minute)

		assert.True(t, limiter.Allow("a"))
		assert.False(t, limiter.Allow("a"))
		assert.True(t, limiter.Allow("b"))
	})

	t.Run("resets after window", func(t *testing.T) {
		limiter, now := newTestLimiter(t, 1, time.Minute)

		assert.True(t, limiter.Allow("client"))
		assert.False(t, limiter.Allow("client"))

		*now = now.Add(time.Minute)
		assert.Equal(t, 1, limiter.Remaining("client"))
		assert.True(t, limiter.Allow("client"))
	})

	t.Run("concurrent access", func(t *testing.T) {
		limiter := NewRateLimiter(50, time.Minute)
		defer limiter.Stop()

		var wg sync.WaitGroup
		var mu sync.Mutex
		allowed := 0
		for i := 0; i < 100; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if limiter.Allow("shared") {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 50, allowed)
	})

	t.Run("stop is idempotent", func(t *testing.T) {
		limiter := NewRateLimiter(1, time.Minute)
		limiter.Stop()
		limiter.Stop()
	})
}

func TestRateLimitByKey(t *testing.T) {
	limiter, _ := newTestLimiter(t, 2, time.Minute)
	id := entitlement.Identity{UserID: uuid.New(), Role: entitlement.RoleUser}

	router := gin.New()
	router.Use(func(c *gin.Context) {
		if c.GetHeader("X-Test-User") != "" {
			c.Set(IdentityKey, id)
		}
		c.Next()
	}, RateLimitByKey(limiter, CallerKey))
	router.POST("/trial", func(c *gin.Context) { c.Status(http.StatusOK) })

	send := func(asUser bool) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/trial", nil)
		if asUser {
			req.Header.Set("X-Test-User", "1")
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	w := send(true)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Remaining"))

	assert.Equal(t, http.StatusOK, send(true).Code)

	w = send(true)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Equal(t, dto.ErrCodeRateLimited, decodeResponse(t, w).Error.Code)

	// anonymous callers are keyed by IP and keep their own budget
	assert.Equal(t, http.StatusOK, send(false).Code)
}

func TestCallerKey(t *testing.T) {
	id := entitlement.Identity{UserID: uuid.New(), Role: entitlement.RoleUser}

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.RemoteAddr = "203.0.113.7:5555"
	assert.Equal(t, "ip:203.0.113.7", CallerKey(c))

	c.Set(IdentityKey, id)
	assert.Equal(t, "user:"+id.UserID.String(), CallerKey(c))
}
