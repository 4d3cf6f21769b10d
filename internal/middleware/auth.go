package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/dmstream/internal/auth"
)

// Context keys for storing claims in gin.Context.
//
// Handlers never read these keys directly; they go through GetUserID and
// GetUsername so a misspelt key is a compile error, not a silent zero.
const (
	ContextKeyUserID   = "user_id"
	ContextKeyUsername = "username"

	// AccessTokenParam lets streaming clients authenticate: browsers'
	// EventSource and WebSocket APIs cannot set an Authorization header.
	AccessTokenParam = "access_token"
)

// AuthMiddleware validates the bearer token and stores the caller's
// identity in the request context.
//
// It runs before every handler in the /v1 group. On a missing or invalid
// token it aborts with 401 and the handler never runs; otherwise it sets
// the claims with c.Set and hands over with c.Next.
//
// secret is passed in rather than read from config so tests can mint
// tokens with any key.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Step 1: find the token, from the header or the query string.
		tokenString, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing or malformed authorization, expected: Bearer <token>",
			})
			return
		}

		// Step 2: check signature, expiry, issuer and algorithm.
		claims, err := auth.ParseToken(tokenString, secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or expired token",
			})
			return
		}

		// Step 3: expose the caller to the handlers further down the chain.
		c.Set(ContextKeyUserID, claims.UserID)
		c.Set(ContextKeyUsername, claims.Username)

		c.Next()
	}
}

// bearerToken prefers "Authorization: Bearer <token>". Only when the
// header is absent does it fall back to ?access_token=, which is how SSE
// and websocket clients in a browser authenticate. A header that is
// present but malformed is rejected outright rather than falling through.
func bearerToken(c *gin.Context) (string, bool) {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			return "", false
		}
		return parts[1], true
	}
	if tok := c.Query(AccessTokenParam); tok != "" {
		return tok, true
	}
	return "", false
}

// GetUserID returns the authenticated user's id, or 0 when the request did
// not pass through AuthMiddleware. No real user has id 0.
func GetUserID(c *gin.Context) int64 {
	val, exists := c.Get(ContextKeyUserID)
	if !exists {
		return 0
	}
	id, ok := val.(int64)
	if !ok {
		return 0
	}
	return id
}

func GetUsername(c *gin.Context) string {
	val, exists := c.Get(ContextKeyUsername)
	if !exists {
		return ""
	}
	name, ok := val.(string)
	if !ok {
		return ""
	}
	return name
}
