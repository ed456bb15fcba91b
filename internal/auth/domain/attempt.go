package domain

import "time"

// AttemptRecord tracks authentication attempts for a (origin, endpoint)
// pair within a rolling window. At most one record exists per pair; an
// elapsed window resets the record instead of accumulating.
type AttemptRecord struct {
	Origin      string
	Endpoint    string
	Count       int
	WindowStart time.Time
}

// ThrottlePolicy bounds attempts per window for one protected endpoint.
type ThrottlePolicy struct {
	Endpoint    string
	MaxAttempts int
	Window      time.Duration
}

// ThrottleDecision is the outcome of a throttle check.
type ThrottleDecision struct {
	Allowed   bool
	Remaining int
	ResetIn   time.Duration
}

// Default policies. Login is deliberately tight; the chat-widget proxy
// checks in through the same throttle with a looser budget.
var (
	DefaultLoginPolicy = ThrottlePolicy{
		Endpoint:    "login",
		MaxAttempts: 5,
		Window:      15 * time.Minute,
	}

	DefaultChatPolicy = ThrottlePolicy{
		Endpoint:    "chat",
		MaxAttempts: 20,
		Window:      time.Minute,
	}
)
