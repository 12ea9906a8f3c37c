package identity

import (
	"context"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/authz-engine/exprauth/pkg/types"
)

// BCryptCost is the cost parameter used when hashing credentials.
const BCryptCost = 12

// CredentialStore looks up the stored credential record for a username.
type CredentialStore interface {
	Lookup(ctx context.Context, username string) (passwordHash string, authorities []string, err error)
}

// PasswordSource verifies fresh credentials against a store, producing a
// fully authenticated Authentication.
type PasswordSource struct {
	store CredentialStore
}

// NewPasswordSource creates a password-based source.
func NewPasswordSource(store CredentialStore) *PasswordSource {
	return &PasswordSource{store: store}
}

// Authenticate verifies the password. Verification failures are reported
// uniformly so callers cannot distinguish a missing user from a wrong
// password.
func (s *PasswordSource) Authenticate(ctx context.Context, username, password string) (*types.Authentication, error) {
	hash, authorities, err := s.store.Lookup(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("bad credentials")
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return nil, fmt.Errorf("bad credentials")
	}
	return types.NewAuthentication(username, username, authorities...), nil
}

// HashPassword hashes a password for storage.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), BCryptCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}
