package utils

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type Claims struct {
	UserID string `json:"uid"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

func SignJWT(secret string, userID uuid.UUID, email string, expiresMin int) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID.String(),
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(expiresMin) * time.Minute)),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString([]byte(secret))
}

// ParseUserID verifies an HS256 token and resolves the user id it was issued for.
// Older tokens carry the id only in "sub".
func ParseUserID(secret, tokenStr string) (uuid.UUID, error) {
	tokenStr = strings.TrimSpace(tokenStr)
	if tokenStr == "" {
		return uuid.Nil, errors.New("missing token")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return uuid.Nil, errors.New("invalid token")
	}

	raw := claims.UserID
	if raw == "" {
		raw = claims.Subject
	}
	uid, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errors.New("invalid token subject")
	}
	return uid, nil
}
