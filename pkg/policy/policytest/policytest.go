// Package policytest has helpers for exercising a policy.Store: a Solana
// wallet that signs terms, and a suite every Store implementation must pass.
package policytest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/zkspend/pkg/policy"
	"github.com/yourorg/zkspend/pkg/signature"
)

// Wallet is a throwaway Solana keypair.
type Wallet struct {
	key solana.PrivateKey
}

func NewWallet(t testing.TB) *Wallet {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return &Wallet{key: key}
}

func (w *Wallet) Address() string { return w.key.PublicKey().String() }

func (w *Wallet) Sign(t testing.TB, msg []byte) string {
	t.Helper()
	sig, err := w.key.Sign(msg)
	require.NoError(t, err)
	return sig.String()
}

// Clock is a settable time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(now time.Time) *Clock { return &Clock{now: now} }

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Start is the clock origin used by the suite: mid-morning UTC.
var Start = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

// Authorize grants terms for w on service through p.
func Authorize(t testing.TB, p *policy.Policy, w *Wallet, service string, maxPerTx, maxDaily uint64, validUntil time.Time) *policy.Authorization {
	t.Helper()
	terms := policy.Terms{
		Wallet:            w.Address(),
		ServiceKey:        service,
		MaxPerTransaction: maxPerTx,
		MaxDailySpend:     maxDaily,
		ValidUntil:        validUntil,
	}
	a, err := p.Authorize(context.Background(), terms, w.Sign(t, terms.Message()))
	require.NoError(t, err)
	return a
}

func sol(t testing.TB, s string) uint64 {
	t.Helper()
	v, err := policy.ParseSOL(s)
	require.NoError(t, err)
	return v
}

// RunStore runs the shared suite against stores built by newStore. Each
// subtest gets a fresh store.
func RunStore(t *testing.T, newStore func(t *testing.T) policy.Store) {
	setup := func(t *testing.T) (*policy.Policy, *Wallet, *Clock) {
		clock := NewClock(Start)
		p := policy.New(newStore(t), signature.Auto{}, policy.WithClock(clock.Now))
		return p, NewWallet(t), clock
	}
	ctx := context.Background()

	t.Run("daily limit sequence", func(t *testing.T) {
		p, w, _ := setup(t)
		Authorize(t, p, w, "svc", sol(t, "0.01"), sol(t, "0.02"), Start.Add(24*time.Hour))
		req := func(amount string) (*policy.Reservation, error) {
			return p.TryReserve(ctx, policy.ReserveRequest{Wallet: w.Address(), ServiceKey: "svc", Amount: sol(t, amount)})
		}

		r, err := req("0.01")
		require.NoError(t, err)
		_, err = p.Commit(ctx, r.ID)
		require.NoError(t, err)

		_, err = req("0.015")
		require.ErrorIs(t, err, policy.ErrDailyLimitExceeded)
		var le *policy.LimitError
		require.ErrorAs(t, err, &le)
		require.Equal(t, sol(t, "0.02"), le.Limit)
		require.Equal(t, sol(t, "0.015"), le.Attempted)
		require.Equal(t, sol(t, "0.01"), le.Spent)

		r, err = req("0.01")
		require.NoError(t, err)
		require.Equal(t, sol(t, "0.01"), r.SpentBefore)
		_, err = p.Commit(ctx, r.ID)
		require.NoError(t, err)

		_, err = req("0.000000001")
		require.ErrorIs(t, err, policy.ErrDailyLimitExceeded)

		st, err := p.Status(ctx, w.Address(), "svc")
		require.NoError(t, err)
		require.Equal(t, policy.StateActive, st.State)
		require.Equal(t, sol(t, "0.02"), st.Committed)
		require.Zero(t, st.Reserved)
		require.Zero(t, st.Remaining)
	})

	t.Run("concurrent reservations", func(t *testing.T) {
		p, w, _ := setup(t)
		Authorize(t, p, w, "svc", sol(t, "0.006"), sol(t, "0.01"), Start.Add(time.Hour))

		var (
			wg   sync.WaitGroup
			res  [2]*policy.Reservation
			errs [2]error
		)
		for i := range res {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				res[i], errs[i] = p.TryReserve(ctx, policy.ReserveRequest{Wallet: w.Address(), ServiceKey: "svc", Amount: sol(t, "0.006")})
			}(i)
		}
		wg.Wait()

		var won *policy.Reservation
		failures := 0
		for i := range res {
			switch {
			case errs[i] == nil:
				won = res[i]
			case errors.Is(errs[i], policy.ErrDailyLimitExceeded):
				failures++
			default:
				t.Fatalf("unexpected error: %v", errs[i])
			}
		}
		require.NotNil(t, won)
		require.Equal(t, 1, failures)

		_, err := p.Commit(ctx, won.ID)
		require.NoError(t, err)
		st, err := p.Status(ctx, w.Address(), "svc")
		require.NoError(t, err)
		require.Equal(t, sol(t, "0.006"), st.Committed)
	})

	t.Run("many concurrent reservations", func(t *testing.T) {
		p, w, _ := setup(t)
		const limit, each, n = 1_000, 30, 100
		Authorize(t, p, w, "svc", each, limit, Start.Add(time.Hour))

		var (
			wg sync.WaitGroup
			mu sync.Mutex
			ok []*policy.Reservation
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				r, err := p.TryReserve(ctx, policy.ReserveRequest{Wallet: w.Address(), ServiceKey: "svc", Amount: each})
				if err != nil {
					return
				}
				mu.Lock()
				ok = append(ok, r)
				mu.Unlock()
			}()
		}
		wg.Wait()
		require.Len(t, ok, limit/each)

		for i, r := range ok {
			var err error
			if i%2 == 0 {
				_, err = p.Commit(ctx, r.ID)
			} else {
				_, err = p.Release(ctx, r.ID)
			}
			require.NoError(t, err)
		}
		st, err := p.Status(ctx, w.Address(), "svc")
		require.NoError(t, err)
		require.LessOrEqual(t, st.Committed+st.Reserved, uint64(limit))
		require.Equal(t, uint64((limit/each+1)/2*each), st.Committed)
		require.Zero(t, st.Reserved)
	})

	t.Run("resolve exactly once", func(t *testing.T) {
		p, w, _ := setup(t)
		Authorize(t, p, w, "svc", 10, 100, Start.Add(time.Hour))
		r, err := p.TryReserve(ctx, policy.ReserveRequest{Wallet: w.Address(), ServiceKey: "svc", Amount: 10, IdempotencyKey: "k1"})
		require.NoError(t, err)
		require.Equal(t, policy.ReservationPending, r.State)

		pending, err := p.Pending(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		require.Equal(t, r.ID, pending[0].ID)
		require.Equal(t, "k1", pending[0].IdempotencyKey)

		got, err := p.Release(ctx, r.ID)
		require.NoError(t, err)
		require.Equal(t, policy.ReservationReleased, got.State)
		require.NotNil(t, got.ResolvedAt)

		_, err = p.Release(ctx, r.ID)
		require.ErrorIs(t, err, policy.ErrReservationAlreadyResolved)
		_, err = p.Commit(ctx, r.ID)
		require.ErrorIs(t, err, policy.ErrReservationAlreadyResolved)
		_, err = p.Commit(ctx, "nope")
		require.ErrorIs(t, err, policy.ErrReservationNotFound)

		pending, err = p.Pending(ctx)
		require.NoError(t, err)
		require.Empty(t, pending)

		st, err := p.Status(ctx, w.Address(), "svc")
		require.NoError(t, err)
		require.Equal(t, uint64(100), st.Remaining)
	})

	t.Run("released key can be reserved again", func(t *testing.T) {
		p, w, _ := setup(t)
		Authorize(t, p, w, "svc", 10, 100, Start.Add(time.Hour))
		req := policy.ReserveRequest{Wallet: w.Address(), ServiceKey: "svc", Amount: 10, IdempotencyKey: "order-7"}

		first, err := p.TryReserve(ctx, req)
		require.NoError(t, err)
		_, err = p.TryReserve(ctx, req)
		require.ErrorIs(t, err, policy.ErrDuplicateIdempotencyKey)
		_, err = p.Release(ctx, first.ID)
		require.NoError(t, err)

		retry, err := p.TryReserve(ctx, req)
		require.NoError(t, err)
		require.NotEqual(t, first.ID, retry.ID)
		require.Equal(t, "order-7", retry.IdempotencyKey)

		// the earlier release does not unlock the key held by the retry
		_, err = p.Release(ctx, first.ID)
		require.ErrorIs(t, err, policy.ErrReservationAlreadyResolved)
		_, err = p.TryReserve(ctx, req)
		require.ErrorIs(t, err, policy.ErrDuplicateIdempotencyKey)

		_, err = p.Commit(ctx, retry.ID)
		require.NoError(t, err)
		_, err = p.TryReserve(ctx, req)
		require.ErrorIs(t, err, policy.ErrDuplicateIdempotencyKey)

		st, err := p.Status(ctx, w.Address(), "svc")
		require.NoError(t, err)
		require.Equal(t, uint64(10), st.Committed)
		require.Zero(t, st.Reserved)
	})

	t.Run("lifecycle", func(t *testing.T) {
		p, w, clock := setup(t)
		req := policy.ReserveRequest{Wallet: w.Address(), ServiceKey: "svc", Amount: 5}

		_, err := p.TryReserve(ctx, req)
		require.ErrorIs(t, err, policy.ErrUnauthorized)

		first := Authorize(t, p, w, "svc", 10, 100, Start.Add(time.Hour))
		_, err = p.TryReserve(ctx, req)
		require.NoError(t, err)

		_, err = p.Revoke(ctx, w.Address(), "svc", w.Sign(t, []byte("wrong message")))
		require.ErrorIs(t, err, policy.ErrInvalidSignature)

		revoked, err := p.Revoke(ctx, w.Address(), "svc", w.Sign(t, policy.RevokeMessage(w.Address(), "svc", first.ID)))
		require.NoError(t, err)
		require.True(t, revoked.Revoked)
		_, err = p.TryReserve(ctx, req)
		require.ErrorIs(t, err, policy.ErrRevoked)
		_, err = p.Revoke(ctx, w.Address(), "svc", "")
		require.ErrorIs(t, err, policy.ErrRevoked)

		second := Authorize(t, p, w, "svc", 10, 100, Start.Add(time.Hour))
		r, err := p.TryReserve(ctx, req)
		require.NoError(t, err)
		require.Equal(t, second.ID, r.AuthorizationID)
		require.Equal(t, uint64(5), r.SpentBefore)

		clock.Advance(time.Hour + time.Second)
		_, err = p.TryReserve(ctx, req)
		require.ErrorIs(t, err, policy.ErrExpired)
		st, err := p.Status(ctx, w.Address(), "svc")
		require.NoError(t, err)
		require.Equal(t, policy.StateExpired, st.State)

		list, err := p.Authorizations(ctx, w.Address())
		require.NoError(t, err)
		require.Len(t, list, 2)
		require.Equal(t, first.ID, list[0].ID)
		require.True(t, list[0].Revoked)
		require.Equal(t, second.ID, list[1].ID)
	})

	t.Run("day rollover", func(t *testing.T) {
		p, w, clock := setup(t)
		Authorize(t, p, w, "svc", 10, 10, Start.Add(72*time.Hour))
		req := policy.ReserveRequest{Wallet: w.Address(), ServiceKey: "svc", Amount: 10}

		r, err := p.TryReserve(ctx, req)
		require.NoError(t, err)
		_, err = p.Commit(ctx, r.ID)
		require.NoError(t, err)
		_, err = p.TryReserve(ctx, req)
		require.ErrorIs(t, err, policy.ErrDailyLimitExceeded)

		clock.Advance(24 * time.Hour)
		r2, err := p.TryReserve(ctx, req)
		require.NoError(t, err)
		require.NotEqual(t, r.Day, r2.Day)
		require.Zero(t, r2.SpentBefore)
	})

	t.Run("services are independent", func(t *testing.T) {
		p, w, _ := setup(t)
		Authorize(t, p, w, "a", 10, 10, Start.Add(time.Hour))
		Authorize(t, p, w, "b", 10, 10, Start.Add(time.Hour))
		for _, svc := range []string{"a", "b"} {
			_, err := p.TryReserve(ctx, policy.ReserveRequest{Wallet: w.Address(), ServiceKey: svc, Amount: 10})
			require.NoError(t, err, svc)
		}
		_, err := p.TryReserve(ctx, policy.ReserveRequest{Wallet: w.Address(), ServiceKey: "c", Amount: 1})
		require.ErrorIs(t, err, policy.ErrUnauthorized)
	})
}
