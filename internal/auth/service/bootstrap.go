package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/optistrat/adminauth/internal/auth/domain"
	"github.com/optistrat/adminauth/internal/auth/store"
	"github.com/optistrat/adminauth/pkg/cryptox"
	"github.com/optistrat/adminauth/pkg/idx"
)

// BootstrapService seeds the fixed role set and, when configured, a first
// admin principal so a fresh deployment is immediately usable.
type BootstrapService struct {
	Store  store.Store
	Logger *slog.Logger
}

// EnsureRoles creates any of the fixed roles that do not exist yet.
// Idempotent across restarts.
func (s *BootstrapService) EnsureRoles(ctx context.Context) error {
	now := time.Now()

	for _, name := range []string{domain.RoleAdmin, domain.RoleEditor} {
		_, err := s.Store.Roles().GetByName(ctx, name)
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("lookup role %q: %w", name, err)
		}

		err = s.Store.Roles().Create(ctx, domain.Role{
			ID:        idx.New().String(),
			Name:      name,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil && !errors.Is(err, store.ErrAlreadyExists) {
			return fmt.Errorf("create role %q: %w", name, err)
		}

		s.Logger.Info("created role", "name", name)
	}
	return nil
}

// EnsureAdmin seeds the first admin principal when the principal table is
// empty. With an empty password a random one is generated and logged once;
// it must be rotated after first login.
func (s *BootstrapService) EnsureAdmin(ctx context.Context, email, password string) error {
	if email == "" {
		return nil // nothing configured, skip seeding
	}

	empty, err := s.Store.Principals().IsEmpty(ctx)
	if err != nil {
		return fmt.Errorf("check principals: %w", err)
	}
	if !empty {
		return nil
	}

	generated := false
	if password == "" {
		password, err = cryptox.GeneratePassword()
		if err != nil {
			return fmt.Errorf("generate admin password: %w", err)
		}
		generated = true
	}

	passHash, err := cryptox.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	adminRole, err := s.Store.Roles().GetByName(ctx, domain.RoleAdmin)
	if err != nil {
		return fmt.Errorf("lookup admin role: %w", err)
	}

	now := time.Now()
	principalID := idx.New().String()
	err = s.Store.Principals().Create(ctx, domain.Principal{
		ID:           principalID,
		Email:        email,
		DisplayName:  "Administrator",
		PasswordHash: passHash,
		RoleID:       adminRole.ID,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return fmt.Errorf("create admin principal: %w", err)
	}

	s.Logger.Info("seeded admin principal",
		"principal_id", principalID,
		"email", email)
	if generated {
		// Logged once on purpose; there is no other way to hand it over.
		s.Logger.Warn("generated admin password, rotate after first login",
			"password", password)
	}
	return nil
}
