package service_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/optistrat/adminauth/internal/auth/domain"
	"github.com/optistrat/adminauth/internal/auth/store"
	"github.com/optistrat/adminauth/internal/auth/store/drivers/sqlite"
	"github.com/optistrat/adminauth/pkg/cryptox"
	"github.com/optistrat/adminauth/pkg/idx"
	"github.com/stretchr/testify/require"
)

// fakeClock is a hand-advanced clock shared by the services under test.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Now()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()

	cryptox.SetPepperPath(filepath.Join(t.TempDir(), "pepper"))

	st, err := sqlite.NewStore("file:" + filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	require.NoError(t, st.ApplyMigrations())
	return st
}

// seedRole creates the named role and returns its id.
func seedRole(t *testing.T, st store.Store, name string) string {
	t.Helper()

	now := time.Now()
	id := idx.New().String()
	require.NoError(t, st.Roles().Create(context.Background(), domain.Role{
		ID:        id,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}))
	return id
}

// seedPrincipal creates a principal with a hashed password and returns its id.
func seedPrincipal(t *testing.T, st store.Store, email, password, roleID string) string {
	t.Helper()

	hash, err := cryptox.HashPassword(password)
	require.NoError(t, err)

	now := time.Now()
	id := idx.New().String()
	require.NoError(t, st.Principals().Create(context.Background(), domain.Principal{
		ID:           id,
		Email:        email,
		DisplayName:  "Test Principal",
		PasswordHash: hash,
		RoleID:       roleID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}))
	return id
}
