package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/optistrat/adminauth/internal/auth/domain"
	"github.com/optistrat/adminauth/internal/auth/service"
	"github.com/optistrat/adminauth/internal/auth/store"
	"github.com/stretchr/testify/require"
)

func TestThrottleCheck(t *testing.T) {
	st := newTestStore(t)
	clock := newFakeClock()
	svc := &service.ThrottleService{Store: st, Now: clock.Now}
	ctx := context.Background()

	policy := domain.ThrottlePolicy{Endpoint: "login", MaxAttempts: 3, Window: time.Minute}

	t.Run("counts down to denial", func(t *testing.T) {
		for i := range 3 {
			dec := svc.Check(ctx, "1.1.1.1", policy)
			require.True(t, dec.Allowed, "attempt %d", i+1)
			require.Equal(t, 3-(i+1), dec.Remaining, "attempt %d", i+1)
		}

		dec := svc.Check(ctx, "1.1.1.1", policy)
		require.False(t, dec.Allowed)
		require.Zero(t, dec.Remaining)
		require.Greater(t, dec.ResetIn, time.Duration(0))
		require.LessOrEqual(t, dec.ResetIn, policy.Window)
	})

	t.Run("denied checks do not extend the window", func(t *testing.T) {
		first := svc.Check(ctx, "1.1.1.1", policy)
		clock.Advance(10 * time.Second)
		second := svc.Check(ctx, "1.1.1.1", policy)

		require.False(t, first.Allowed)
		require.False(t, second.Allowed)
		require.Greater(t, first.ResetIn, second.ResetIn)
	})

	t.Run("window elapse starts fresh", func(t *testing.T) {
		clock.Advance(policy.Window)

		dec := svc.Check(ctx, "1.1.1.1", policy)
		require.True(t, dec.Allowed)
		require.Equal(t, 2, dec.Remaining)
	})

	t.Run("origins and endpoints are independent", func(t *testing.T) {
		other := domain.ThrottlePolicy{Endpoint: "chat", MaxAttempts: 3, Window: time.Minute}

		dec := svc.Check(ctx, "2.2.2.2", policy)
		require.True(t, dec.Allowed)
		require.Equal(t, 2, dec.Remaining)

		dec = svc.Check(ctx, "1.1.1.1", other)
		require.True(t, dec.Allowed)
		require.Equal(t, 2, dec.Remaining)
	})
}

func TestThrottleCheck_ConcurrentBurst(t *testing.T) {
	st := newTestStore(t)
	svc := &service.ThrottleService{Store: st}
	ctx := context.Background()

	policy := domain.ThrottlePolicy{Endpoint: "login", MaxAttempts: 5, Window: time.Minute}

	// All callers race for the same counter; the check-and-increment cycle
	// must serialize so no more than the budget gets through.
	const callers = 32
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if svc.Check(ctx, "9.9.9.9", policy).Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, policy.MaxAttempts, allowed, "concurrent checks must not exceed the budget")

	rec, err := st.Attempts().Get(ctx, "9.9.9.9", policy.Endpoint)
	require.NoError(t, err)
	require.Equal(t, policy.MaxAttempts, rec.Count)
}

func TestThrottleReset(t *testing.T) {
	st := newTestStore(t)
	clock := newFakeClock()
	svc := &service.ThrottleService{Store: st, Now: clock.Now}
	ctx := context.Background()

	policy := domain.ThrottlePolicy{Endpoint: "login", MaxAttempts: 2, Window: time.Minute}

	svc.Check(ctx, "1.1.1.1", policy)
	svc.Check(ctx, "1.1.1.1", policy)
	require.False(t, svc.Check(ctx, "1.1.1.1", policy).Allowed)

	require.NoError(t, svc.Reset(ctx, "1.1.1.1", policy.Endpoint))

	dec := svc.Check(ctx, "1.1.1.1", policy)
	require.True(t, dec.Allowed)
	require.Equal(t, 1, dec.Remaining)
}

// failingStore errors on every transaction, simulating storage loss.
type failingStore struct {
	store.Store
}

func (f *failingStore) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return errors.New("storage unavailable")
}

func TestThrottleCheck_FailsOpen(t *testing.T) {
	svc := &service.ThrottleService{Store: &failingStore{}}
	ctx := context.Background()

	policy := domain.ThrottlePolicy{Endpoint: "login", MaxAttempts: 3, Window: time.Minute}

	// Storage trouble must never lock everyone out; the credential checks
	// behind the throttle still apply.
	dec := svc.Check(ctx, "1.1.1.1", policy)
	require.True(t, dec.Allowed)
}

// contendedStore loses every lock race, simulating concurrent writers.
type contendedStore struct {
	store.Store
}

func (f *contendedStore) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return fmt.Errorf("%w: database is locked", store.ErrBusy)
}

func TestThrottleCheck_ContentionDenies(t *testing.T) {
	svc := &service.ThrottleService{Store: &contendedStore{}}
	ctx := context.Background()

	policy := domain.ThrottlePolicy{Endpoint: "login", MaxAttempts: 3, Window: time.Minute}

	// Losing a lock race means another check is mid-flight for the same
	// counter; letting the loser through would breach the budget.
	dec := svc.Check(ctx, "1.1.1.1", policy)
	require.False(t, dec.Allowed)
	require.Zero(t, dec.Remaining)
}
