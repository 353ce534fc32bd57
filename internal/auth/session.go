// internal/auth/session.go
package auth

import (
	"crypto/rand"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	log "github.com/sirupsen/logrus"
)

// TokenTTL is the lifetime of a session token.
const TokenTTL = 7 * 24 * time.Hour

// secret is the HMAC key used to sign session tokens.
var secret []byte

// Init loads the signing secret from JWT_SECRET. Without one, a random
// per-process secret is generated; sessions then die with the process, so
// production deployments should always set JWT_SECRET.
func Init() {
	if s := os.Getenv("JWT_SECRET"); s != "" {
		secret = []byte(s)
		return
	}
	secret = make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		log.Fatalf("failed to generate session secret: %v", err)
	}
	log.Warn("JWT_SECRET not set, using a random per-process secret")
}

// CreateToken signs a session token with "sub" = userID and a 7-day expiry.
func CreateToken(userID string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(TokenTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// VerifyToken validates a session token and returns its "sub" claim.
func VerifyToken(tokenString string) (string, error) {
	t, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("jwt parse error: %w", err)
	}
	if !t.Valid {
		return "", fmt.Errorf("invalid token")
	}

	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid jwt claims")
	}
	sub, ok := claims["sub"].(string)
	if !ok {
		return "", fmt.Errorf("missing sub in jwt")
	}
	return sub, nil
}
