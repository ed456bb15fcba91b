package store

import (
	"context"
	"errors"
	"time"

	"github.com/optistrat/adminauth/internal/auth/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")

	// ErrBusy means the database rejected the operation because of lock
	// contention. Distinct from other storage failures so callers can pick
	// a posture: the throttle denies on contention but fails open on loss.
	ErrBusy = errors.New("store: database busy")
)

// Store is the root data access interface. Concrete drivers (sqlite for
// now) implement this. It exposes sub-repositories to keep concerns tidy
// and testable. Ownership rules: the Attempts repo is written only through
// the throttle service, and the principal MFA fields only through the MFA
// service.
type Store interface {
	Principals() Principals
	Roles() Roles
	Attempts() Attempts
	Challenges() Challenges

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes fn within a transaction, rolling back when fn
	// returns an error and committing otherwise. Prefer this over Tx.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Principals interface {
	// GetByID returns a principal by id.
	GetByID(ctx context.Context, id string) (domain.Principal, error)

	// GetByEmail is used during the credential check.
	GetByEmail(ctx context.Context, email string) (domain.Principal, error)

	// Create inserts a new principal (id is provided by app via ULID).
	Create(ctx context.Context, p domain.Principal) error

	// UpdateMFASecret sets the pending TOTP secret for a principal.
	UpdateMFASecret(ctx context.Context, principalID string, secret string) error

	// EnableMFA marks MFA as confirmed (sets the mfa_enabled timestamp).
	EnableMFA(ctx context.Context, principalID string) error

	// UpdateRole moves the principal to a different role.
	UpdateRole(ctx context.Context, principalID, roleID string) error

	// DisableMFA clears both mfa_enabled and mfa_secret.
	DisableMFA(ctx context.Context, principalID string) error

	// GetMFAInfo returns only the MFA fields for a principal. Server-side
	// callers only; the secret never travels further than the TOTP engine.
	GetMFAInfo(ctx context.Context, principalID string) (enabled bool, secret *string, err error)

	// IsEmpty returns true if there are no principals.
	IsEmpty(ctx context.Context) (bool, error)
}

type Roles interface {
	// GetByID fetches a role by its ID.
	GetByID(ctx context.Context, id string) (domain.Role, error)

	// GetByName fetches a role by its name (for bootstrap and role checks).
	GetByName(ctx context.Context, name string) (domain.Role, error)

	// Create inserts a new role (id is ULID).
	Create(ctx context.Context, r domain.Role) error
}

// Attempts persists the windowed attempt counters behind the throttle.
// The read-branch-write cycle for a single check must run inside one
// transaction (see ThrottleService) so concurrent checks serialize.
type Attempts interface {
	// Get returns the record for (origin, endpoint) regardless of window age.
	Get(ctx context.Context, origin, endpoint string) (domain.AttemptRecord, error)

	// Start upserts the record to count=1 with a fresh window start.
	Start(ctx context.Context, rec domain.AttemptRecord) error

	// Increment bumps the counter and returns the new count.
	Increment(ctx context.Context, origin, endpoint string) (int, error)

	// Delete removes the record, clearing the window after a successful login.
	Delete(ctx context.Context, origin, endpoint string) error

	// DeleteStale removes records whose window started before the cutoff.
	DeleteStale(ctx context.Context, cutoff time.Time) error
}

type Challenges interface {
	// Create stores a new pending second-factor challenge.
	Create(ctx context.Context, c domain.LoginChallenge) error

	// Get retrieves a challenge by its opaque id. Expiry is enforced by
	// the caller against its own clock.
	Get(ctx context.Context, id string) (domain.LoginChallenge, error)

	// IncrementAttempts bumps the failed-code counter and returns the
	// updated challenge.
	IncrementAttempts(ctx context.Context, id string) (domain.LoginChallenge, error)

	// Delete removes a challenge once consumed or exhausted.
	Delete(ctx context.Context, id string) error

	// DeleteExpired removes challenges past their expiry (housekeeping).
	DeleteExpired(ctx context.Context, now time.Time) error
}
