// Package identity bridges external identity sources into the
// Authentication the evaluation engine reads.
package identity

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/authz-engine/exprauth/pkg/types"
)

// Claims are the token claims this engine consumes.
type Claims struct {
	jwt.RegisteredClaims

	Username    string   `json:"username,omitempty"`
	Authorities []string `json:"authorities,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	// AMR carries the authentication method references; "remember-me" marks
	// the weaker proof of identity.
	AMR []string `json:"amr,omitempty"`
}

// JWTSource turns bearer tokens into Authentications.
type JWTSource struct {
	keyFunc jwt.Keyfunc
	parser  *jwt.Parser
}

// NewJWTSource creates a source verifying tokens with keyFunc.
func NewJWTSource(keyFunc jwt.Keyfunc) *JWTSource {
	return &JWTSource{
		keyFunc: keyFunc,
		parser:  jwt.NewParser(jwt.WithValidMethods([]string{"HS256", "RS256", "ES256"})),
	}
}

// Authenticate parses and verifies a token. An invalid token yields an
// error; the caller decides whether to continue anonymously.
func (s *JWTSource) Authenticate(tokenString string) (*types.Authentication, error) {
	token, err := s.parser.ParseWithClaims(tokenString, &Claims{}, s.keyFunc)
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("token is not valid")
	}

	name := claims.Username
	if name == "" {
		name = claims.Subject
	}
	authorities := append([]string(nil), claims.Authorities...)
	authorities = append(authorities, claims.Roles...)

	auth := types.NewAuthentication(name, name, authorities...)
	for _, method := range claims.AMR {
		if method == "remember-me" {
			auth.RememberMe = true
		}
	}
	return auth, nil
}
