package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/optistrat/adminauth/internal/auth/domain"
	"github.com/optistrat/adminauth/internal/auth/store"
)

// ThrottleService enforces windowed attempt budgets per (origin, endpoint).
// Every call to Check counts as an attempt; the counter only goes away via
// Reset or an elapsed window. Over-budget checks are denied without
// incrementing further.
//
// Failure posture is asymmetric: an over-budget caller is always denied,
// and so is one that loses a lock race, but a storage failure lets the
// attempt through. Locking every user out because the database hiccuped is
// worse than briefly losing the throttle; the password and TOTP checks
// still stand behind it.
type ThrottleService struct {
	Store  store.Store
	Logger *slog.Logger

	// Now is the clock; nil means time.Now. Injected for tests.
	Now func() time.Time
}

func (s *ThrottleService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Check records one attempt for (origin, policy.Endpoint) and decides
// whether it may proceed. The read-branch-write cycle runs in a single
// transaction so concurrent checks serialize (sqlite admits one writer at
// a time) and the counter never undercounts.
func (s *ThrottleService) Check(ctx context.Context, origin string, policy domain.ThrottlePolicy) domain.ThrottleDecision {
	now := s.now()
	var decision domain.ThrottleDecision

	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		rec, err := tx.Attempts().Get(ctx, origin, policy.Endpoint)
		fresh := errors.Is(err, store.ErrNotFound)
		if err != nil && !fresh {
			return fmt.Errorf("get attempts: %w", err)
		}

		// A missing record and an elapsed window both start a new window
		// at count 1.
		if fresh || now.Sub(rec.WindowStart) >= policy.Window {
			if err := tx.Attempts().Start(ctx, domain.AttemptRecord{
				Origin:      origin,
				Endpoint:    policy.Endpoint,
				Count:       1,
				WindowStart: now,
			}); err != nil {
				return fmt.Errorf("start window: %w", err)
			}
			decision = domain.ThrottleDecision{
				Allowed:   true,
				Remaining: policy.MaxAttempts - 1,
				ResetIn:   policy.Window,
			}
			return nil
		}

		resetIn := policy.Window - now.Sub(rec.WindowStart)

		if rec.Count >= policy.MaxAttempts {
			decision = domain.ThrottleDecision{
				Allowed:   false,
				Remaining: 0,
				ResetIn:   resetIn,
			}
			return nil
		}

		count, err := tx.Attempts().Increment(ctx, origin, policy.Endpoint)
		if err != nil {
			return fmt.Errorf("increment attempts: %w", err)
		}

		decision = domain.ThrottleDecision{
			Allowed:   true,
			Remaining: max(policy.MaxAttempts-count, 0),
			ResetIn:   resetIn,
		}
		return nil
	})
	if err != nil {
		// Lock contention means concurrent checks are racing for the same
		// counter; denying the loser is the safe side of that race. Only a
		// genuine storage failure fails open.
		if errors.Is(err, store.ErrBusy) {
			s.logger().WarnContext(ctx, "throttle check contended, denying attempt",
				"endpoint", policy.Endpoint,
				"error", err)
			return domain.ThrottleDecision{
				Allowed:   false,
				Remaining: 0,
				ResetIn:   policy.Window,
			}
		}

		s.logger().WarnContext(ctx, "throttle check failed, allowing attempt",
			"endpoint", policy.Endpoint,
			"error", err)
		return domain.ThrottleDecision{
			Allowed:   true,
			Remaining: policy.MaxAttempts,
			ResetIn:   policy.Window,
		}
	}

	return decision
}

// Reset clears the attempt window for (origin, endpoint). Called after a
// fully successful authentication.
func (s *ThrottleService) Reset(ctx context.Context, origin, endpoint string) error {
	return s.Store.Attempts().Delete(ctx, origin, endpoint)
}

func (s *ThrottleService) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
