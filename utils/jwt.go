package utils

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"sosband-backend/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenTTL is the lifetime of a session token. There is no refresh: the
// user signs in again once it lapses.
const TokenTTL = 2 * time.Hour

const tokenIssuer = "sosband-backend"

var ErrMissingSecret = errors.New("JWT_SECRET is not set")

// Claims is the session token payload.
type Claims struct {
	UserID uuid.UUID   `json:"userId"`
	Email  string      `json:"email"`
	Role   models.Role `json:"tipo"`
	jwt.RegisteredClaims
}

var (
	clockMu sync.RWMutex
	clock   = time.Now
)

func now() time.Time {
	clockMu.RLock()
	defer clockMu.RUnlock()
	return clock()
}

// SetClock replaces the time source used for issuing and checking tokens
// and returns a func restoring the previous one.
func SetClock(fn func() time.Time) (restore func()) {
	clockMu.Lock()
	prev := clock
	clock = fn
	clockMu.Unlock()
	return func() {
		clockMu.Lock()
		clock = prev
		clockMu.Unlock()
	}
}

func getJWTSecret() (string, error) {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return "", ErrMissingSecret
	}
	return secret, nil
}

func GenerateToken(userID uuid.UUID, email string, role models.Role) (string, error) {
	secret, err := getJWTSecret()
	if err != nil {
		return "", err
	}

	issuedAt := now()
	claims := Claims{
		UserID: userID,
		Email:  email,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(TokenTTL)),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			Issuer:    tokenIssuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ValidateToken checks signature and expiry. Any failure comes back as an
// error; it never panics.
func ValidateToken(tokenString string) (*Claims, error) {
	return ValidateTokenAt(tokenString, now())
}

// ValidateTokenAt is ValidateToken with expiry checked against at.
func ValidateTokenAt(tokenString string, at time.Time) (*Claims, error) {
	secret, err := getJWTSecret()
	if err != nil {
		return nil, err
	}
	if tokenString == "" {
		return nil, jwt.ErrTokenMalformed
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	},
		jwt.WithTimeFunc(func() time.Time { return at }),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, jwt.ErrSignatureInvalid
}
