package auth

import (
	"errors"
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

func sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("not-our-secret"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestFromToken(t *testing.T) {
	tests := []struct {
		name     string
		claims   jwt.MapClaims
		wantID   string
		wantUser string
		wantErr  error
	}{
		{"sub", jwt.MapClaims{"sub": "u1", "username": "ana"}, "u1", "ana", nil},
		{"userId", jwt.MapClaims{"userId": "u2"}, "u2", "", nil},
		{"mongo style", jwt.MapClaims{"_id": "65f0a"}, "65f0a", "", nil},
		{"numeric id", jwt.MapClaims{"id": float64(42)}, "42", "", nil},
		{"sub wins", jwt.MapClaims{"sub": "a", "id": "b"}, "a", "", nil},
		{"missing", jwt.MapClaims{"role": "admin"}, "", "", ErrNoSubject},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := FromToken(sign(t, tt.claims))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("FromToken() error = %v, want %v", err, tt.wantErr)
			}
			if id.UserID != tt.wantID || id.Username != tt.wantUser {
				t.Errorf("FromToken() = %+v, want id %q user %q", id, tt.wantID, tt.wantUser)
			}
		})
	}
}

func TestFromTokenMalformed(t *testing.T) {
	if _, err := FromToken("not.a.jwt"); err == nil {
		t.Error("FromToken() expected error for malformed token")
	}
}
