package domain

import "time"

// Role names form a closed set seeded at bootstrap.
const (
	RoleAdmin  = "admin"
	RoleEditor = "editor"
)

// Principal is a registered back-office identity. The MFA secret is only
// ever read by server-side code; it must never appear in a client response
// after enrollment begins.
type Principal struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string     // argon2id encoded
	RoleID       string     // Foreign key to roles table
	MFAEnabled   *time.Time // Timestamp when MFA was confirmed (nullable)
	MFASecret    *string    // TOTP secret (nullable, base32 encoded)
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Role struct {
	ID        string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}
