package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/optistrat/adminauth/internal/auth/store"
	"github.com/optistrat/adminauth/pkg/cryptox"
)

// IdentityProvider answers the two questions the login flow needs: do these
// credentials belong to a principal, and does that principal hold a role.
// Backed by the principal store in production; tests may substitute.
type IdentityProvider interface {
	// VerifyCredentials returns the principal ID when the identifier/secret
	// pair is valid. Unknown identifiers and wrong secrets are
	// indistinguishable to the caller.
	VerifyCredentials(ctx context.Context, identifier, secret string) (string, error)

	// RoleOf returns the name of the role the principal holds.
	RoleOf(ctx context.Context, principalID string) (string, error)
}

// dummyHash is a well-formed argon2id hash verified against when the
// identifier is unknown, so the failure path costs roughly the same as a
// wrong password and response timing does not leak which emails exist.
const dummyHash = "$argon2id$v=19$m=19456,t=2,p=1$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// StoreIdentity is the store-backed IdentityProvider.
type StoreIdentity struct {
	Store store.Store
}

func (p *StoreIdentity) VerifyCredentials(ctx context.Context, identifier, secret string) (string, error) {
	principal, err := p.Store.Principals().GetByEmail(ctx, identifier)
	if errors.Is(err, store.ErrNotFound) {
		_ = cryptox.VerifyPassword(secret, dummyHash)
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", fmt.Errorf("lookup principal: %w", err)
	}

	if err := cryptox.VerifyPassword(secret, principal.PasswordHash); err != nil {
		return "", ErrInvalidCredentials
	}
	return principal.ID, nil
}

func (p *StoreIdentity) RoleOf(ctx context.Context, principalID string) (string, error) {
	principal, err := p.Store.Principals().GetByID(ctx, principalID)
	if err != nil {
		return "", fmt.Errorf("lookup principal: %w", err)
	}

	r, err := p.Store.Roles().GetByID(ctx, principal.RoleID)
	if err != nil {
		return "", fmt.Errorf("lookup role: %w", err)
	}
	return r.Name, nil
}
