package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lalith-99/dmstream/internal/auth"
)

const testSecret = "middleware-test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func TestAuthMiddleware_SetsIdentity(t *testing.T) {
	token, err := auth.GenerateToken(7, "alice", testSecret, time.Hour)
	require.NoError(t, err)

	r := gin.New()
	r.GET("/who", AuthMiddleware(testSecret), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"id": GetUserID(c), "name": GetUsername(c)})
	})

	tests := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{"bearer header", "Bearer " + token, "", http.StatusOK},
		{"lowercase scheme", "bearer " + token, "", http.StatusOK},
		{"query param", "", "?" + AccessTokenParam + "=" + token, http.StatusOK},
		{"missing", "", "", http.StatusUnauthorized},
		{"wrong scheme", "Token " + token, "", http.StatusUnauthorized},
		{"empty bearer", "Bearer ", "", http.StatusUnauthorized},
		{"bad token", "Bearer nope", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/who"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusOK {
				assert.JSONEq(t, `{"id":7,"name":"alice"}`, w.Body.String())
			}
		})
	}
}

func TestGetUserID_Unauthenticated(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Equal(t, int64(0), GetUserID(c))
	assert.Equal(t, "", GetUsername(c))

	c.Set(ContextKeyUserID, "not an id")
	assert.Equal(t, int64(0), GetUserID(c))
}

func TestRateLimit(t *testing.T) {
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if id := c.GetHeader("X-User"); id == "1" {
			c.Set(ContextKeyUserID, int64(1))
		} else if id == "2" {
			c.Set(ContextKeyUserID, int64(2))
		}
		c.Next()
	})
	// One token per hour: only the burst gets through.
	r.POST("/send", RateLimit(1.0/3600, 3), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	send := func(user string) int {
		req := httptest.NewRequest(http.MethodPost, "/send", nil)
		if user != "" {
			req.Header.Set("X-User", user)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusNoContent, send("1"), "request %d within burst", i)
	}
	assert.Equal(t, http.StatusTooManyRequests, send("1"))

	// Buckets are per user, and anonymous callers share one per IP.
	assert.Equal(t, http.StatusNoContent, send("2"))
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusNoContent, send(""))
	}
	assert.Equal(t, http.StatusTooManyRequests, send(""))
}

func TestNewLimiterPool_Defaults(t *testing.T) {
	p := newLimiterPool(0, 0)
	assert.Equal(t, 5.0, p.rps)
	assert.Equal(t, 10, p.burst)
	assert.Same(t, p.get("a"), p.get("a"))
	assert.NotSame(t, p.get("a"), p.get("b"))
}
