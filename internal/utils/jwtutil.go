package utils

import (
	"errors"
	"time"

	"clubhouse-system/internal/lifecycle"

	"github.com/golang-jwt/jwt/v4"
)

var JwtSecret = []byte("change-me-in-env")

// SetSecret replaces the signing key. Empty values keep the default.
func SetSecret(secret string) {
	if secret != "" {
		JwtSecret = []byte(secret)
	}
}

type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Actor converts the claims into the identity every service checks against.
func (c *Claims) Actor() (lifecycle.Actor, error) {
	role, ok := lifecycle.ParseRole(c.Role)
	if !ok {
		return lifecycle.Actor{}, errors.New("unknown role " + c.Role)
	}
	if c.UserID == "" {
		return lifecycle.Actor{}, errors.New("token has no user_id")
	}
	return lifecycle.Actor{UserID: c.UserID, Role: role}, nil
}

func GenerateToken(userID string, role lifecycle.Role, ttl time.Duration) (string, time.Time, error) {
	exp := time.Now().Add(ttl)
	claims := &Claims{
		UserID: userID,
		Role:   string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   userID,
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := t.SignedString(JwtSecret)
	return s, exp, err
}

func ParseToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return JwtSecret, nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("Invalid Token")
}
