package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "dmstream"

// Claims is the payload inside every token.
//
// Login mints a token with these fields; AuthMiddleware reads them back on
// every request, so a handler knows who is calling without a trip to the
// user table.
//
// Why carry Username as well as UserID?
//   - Send publishes events labelled with the sender's name. Taking it from
//     the token saves a directory lookup on the hot path.
//   - A rename is not reflected until the token is reissued. That is fine
//     for a label; identity checks use UserID only.
//
// jwt.RegisteredClaims supplies ExpiresAt, IssuedAt and Issuer.
type Claims struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// GenerateToken creates an HS256-signed token for userID valid for ttl.
//
// HS256 uses one shared secret (config JWT_SECRET) to both sign and
// verify. Only this service issues and checks tokens, so no key pair is
// needed; a second service that must verify without issuing would call
// for RS256.
func GenerateToken(userID int64, username, secret string, ttl time.Duration) (string, error) {
	now := time.Now()

	claims := Claims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			// Past ExpiresAt the middleware answers 401 and the client has
			// to log in again.
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			// ParseToken insists on this issuer, so tokens minted by
			// another service that happens to share the secret are refused.
			Issuer: issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return signed, nil
}

// ParseToken validates a token string and returns its claims.
//
// It verifies, in order:
//  1. The signing method is HMAC (see the key callback below).
//  2. The signature matches secret.
//  3. The token has not expired and was issued by us.
//  4. It names a real user id. No user has id 0.
func ParseToken(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{},
		func(token *jwt.Token) (any, error) {
			// Called before the signature is checked. A token that claims
			// "none" or an RSA algorithm is refused here; otherwise an
			// attacker could pick the algorithm the secret is checked with
			// (algorithm confusion).
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(secret), nil
		},
		jwt.WithIssuer(issuer),
	)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.UserID <= 0 {
		return nil, fmt.Errorf("token has no user id")
	}

	return claims, nil
}
