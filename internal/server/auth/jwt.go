// Package auth verifies the bearer tokens issued by the identity provider in
// front of GophScribe. Tokens are HS256 JWTs carrying the caller's user id.
package auth

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophscribe/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// Claims holds the registered claims and the UserID claim.
type Claims struct {
	jwt.RegisteredClaims
	UserID string
}

// GenerateToken signs a token for userID. The server only verifies tokens;
// this is used by tooling and tests.
func GenerateToken(userID string, secretKey []byte, validityDuration time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validityDuration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		UserID: userID,
	})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// GetUserIDFromToken validates tokenString and returns its UserID. Every
// failure wraps common.ErrInvalidToken.
func GetUserIDFromToken(tokenString string, secretKey []byte) (string, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	}

	if !token.Valid || claims.UserID == "" {
		return "", common.ErrInvalidToken
	}

	return claims.UserID, nil
}
