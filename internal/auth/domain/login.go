package domain

import "time"

// LoginState is the state of a login flow.
type LoginState string

const (
	StateUnauthenticated      LoginState = "unauthenticated"
	StateAwaitingSecondFactor LoginState = "awaiting_second_factor"
	StateAuthenticated        LoginState = "authenticated"
	StateForbidden            LoginState = "forbidden"
)

// LoginResult is returned by the credential verifier. AccessToken is set
// only in the Authenticated state; MFAToken only in AwaitingSecondFactor.
type LoginResult struct {
	State       LoginState
	AccessToken string
	ExpiresIn   time.Duration
	MFAToken    string
}

// LoginChallenge is a pending second-factor challenge created after a
// successful password check when MFA is enabled. The client holds only the
// opaque ID; the principal binding lives server-side.
type LoginChallenge struct {
	ID          string // SHA-256 fingerprint of the opaque token handed to the client
	PrincipalID string
	Origin      string // client network origin that started the login
	Attempts    int    // failed code submissions so far
	CreatedAt   time.Time
	ExpiresAt   time.Time
}
