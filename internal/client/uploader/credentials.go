package uploader

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dmitrijs2005/gophscribe/internal/server/auth"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/term"
)

var isTerminal = term.IsTerminal

// Credentials settles the bearer token and the user id an upload runs as.
// A given token wins; its user id is read from the claims without
// verification. Otherwise a token is minted from secret for userID.
func Credentials(token, secret, userID string, ttl time.Duration) (string, string, error) {
	if token != "" {
		claims := &auth.Claims{}
		if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
			return "", "", fmt.Errorf("parse token: %w", err)
		}
		if userID == "" {
			userID = claims.UserID
		}
		if userID == "" {
			return "", "", errors.New("token carries no user id")
		}
		return token, userID, nil
	}

	if secret == "" || userID == "" {
		return "", "", errors.New("either a token or a secret key and a user id are required")
	}
	token, err := auth.GenerateToken(userID, []byte(secret), ttl)
	if err != nil {
		return "", "", fmt.Errorf("mint token: %w", err)
	}
	return token, userID, nil
}

// ProgressWriter returns f when it is a terminal and nil otherwise, so
// progress lines never end up in redirected output.
func ProgressWriter(f *os.File) io.Writer {
	if f == nil || !isTerminal(int(f.Fd())) {
		return nil
	}
	return f
}
