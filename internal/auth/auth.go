// Package auth resolves bearer credentials presented during the WebSocket
// handshake (and on REST snapshot requests) to a user identity. Credentials
// are HMAC-signed JWTs carrying the user id plus display fields.
package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/skillswap/chat-app/internal/apperr"
)

// Identity is the resolved result of a successful credential check.
type Identity struct {
	ID         string
	Name       string
	ProfilePic string
}

// Verifier resolves a bearer token to an Identity. Implementations return an
// authentication-kind error for any bad or missing credential.
type Verifier interface {
	Verify(token string) (Identity, error)
}

// JWTVerifier validates HS256-signed tokens with a shared secret.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a verifier using the given shared secret.
func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

// Verify parses and validates the token and extracts the identity claims.
func (v *JWTVerifier) Verify(token string) (Identity, error) {
	if token == "" {
		return Identity{}, apperr.Authentication("missing credential")
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Identity{}, apperr.Wrap(apperr.KindAuthentication,
			"authentication_failed", "invalid or expired token", err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, apperr.Authentication("malformed claims")
	}

	id, _ := claims["user_id"].(string)
	if id == "" {
		return Identity{}, apperr.Authentication("token missing user_id")
	}

	name, _ := claims["name"].(string)
	pic, _ := claims["profile_pic"].(string)

	return Identity{ID: id, Name: name, ProfilePic: pic}, nil
}

// TokenFromRequest extracts the bearer token from an HTTP request. It accepts
// either an Authorization header or a "token" query parameter (browsers cannot
// set headers on WebSocket upgrades).
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// Sign creates a token for the given identity. It exists for tests and local
// tooling; production tokens are issued by the platform's auth service.
func Sign(secret string, ident Identity) (string, error) {
	claims := jwt.MapClaims{
		"user_id":     ident.ID,
		"name":        ident.Name,
		"profile_pic": ident.ProfilePic,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
