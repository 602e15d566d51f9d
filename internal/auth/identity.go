// Package auth extracts the signed-in user's identity from the bearer token.
// The token is issued and verified by the server; the client only reads it.
package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoSubject is returned when the token carries no recognizable user id.
var ErrNoSubject = errors.New("token has no user id claim")

// Identity is the user the client acts as.
type Identity struct {
	UserID   string
	Username string
}

// claimKeys are checked in order for the user id.
var claimKeys = []string{"sub", "userId", "id", "_id"}

// FromToken reads the identity claims of a JWT without verifying its
// signature.
func FromToken(token string) (Identity, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Identity{}, fmt.Errorf("parse token: %w", err)
	}

	var id Identity
	for _, k := range claimKeys {
		if v, ok := claims[k]; ok {
			if s := stringClaim(v); s != "" {
				id.UserID = s
				break
			}
		}
	}
	if id.UserID == "" {
		return Identity{}, ErrNoSubject
	}
	if v, ok := claims["username"]; ok {
		id.Username = stringClaim(v)
	}
	return id, nil
}

func stringClaim(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return fmt.Sprintf("%.0f", t)
	}
	return ""
}
