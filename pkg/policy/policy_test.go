package policy_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yourorg/zkspend/pkg/policy"
	"github.com/yourorg/zkspend/pkg/policy/policytest"
	"github.com/yourorg/zkspend/pkg/signature"
)

func TestMemoryStore(t *testing.T) {
	policytest.RunStore(t, func(*testing.T) policy.Store { return policy.NewMemoryStore() })
}

func TestTryReserveCheckOrder(t *testing.T) {
	ctx := context.Background()
	clock := policytest.NewClock(policytest.Start)
	p := policy.New(policy.NewMemoryStore(), signature.Auto{}, policy.WithClock(clock.Now))
	w := policytest.NewWallet(t)

	// zero amount is rejected before the authorization is even looked up
	_, err := p.TryReserve(ctx, policy.ReserveRequest{Wallet: w.Address(), ServiceKey: "svc"})
	require.ErrorIs(t, err, policy.ErrInvalidAmount)

	policytest.Authorize(t, p, w, "svc", 10, 15, policytest.Start.Add(time.Minute))

	_, err = p.TryReserve(ctx, policy.ReserveRequest{Wallet: w.Address(), ServiceKey: "svc", Amount: 11})
	require.ErrorIs(t, err, policy.ErrPerTransactionLimitExceeded)
	var le *policy.LimitError
	require.True(t, errors.As(err, &le))
	require.Equal(t, uint64(10), le.Limit)
	require.Equal(t, uint64(11), le.Attempted)
	require.Zero(t, le.Spent)

	// exactly at the per-transaction limit
	_, err = p.TryReserve(ctx, policy.ReserveRequest{Wallet: w.Address(), ServiceKey: "svc", Amount: 10})
	require.NoError(t, err)

	// expiry beats the limit checks
	clock.Advance(2 * time.Minute)
	_, err = p.TryReserve(ctx, policy.ReserveRequest{Wallet: w.Address(), ServiceKey: "svc", Amount: 11})
	require.ErrorIs(t, err, policy.ErrExpired)
}

func TestAuthorizeValidation(t *testing.T) {
	ctx := context.Background()
	p := policy.New(policy.NewMemoryStore(), signature.Auto{}, policy.WithClock(func() time.Time { return policytest.Start }))
	w := policytest.NewWallet(t)

	good := policy.Terms{
		Wallet:            w.Address(),
		ServiceKey:        "svc",
		MaxPerTransaction: 10,
		MaxDailySpend:     20,
		ValidUntil:        policytest.Start.Add(time.Hour),
	}

	cases := map[string]func(*policy.Terms){
		"empty service":    func(t *policy.Terms) { t.ServiceKey = " " },
		"zero per tx":      func(t *policy.Terms) { t.MaxPerTransaction = 0 },
		"zero daily":       func(t *policy.Terms) { t.MaxDailySpend = 0 },
		"per tx over day":  func(t *policy.Terms) { t.MaxPerTransaction = 21 },
		"daily over int64": func(t *policy.Terms) { t.MaxDailySpend = policy.MaxLamports + 1 },
		"both over int64":  func(t *policy.Terms) { t.MaxPerTransaction, t.MaxDailySpend = math.MaxUint64, math.MaxUint64 },
		"already expired":  func(t *policy.Terms) { t.ValidUntil = policytest.Start },
		"malformed wallet": func(t *policy.Terms) { t.Wallet = "not a wallet" },
	}
	for name, mutate := range cases {
		terms := good
		mutate(&terms)
		_, err := p.Authorize(ctx, terms, w.Sign(t, terms.Message()))
		require.ErrorIs(t, err, policy.ErrInvalidTerms, name)
	}

	other := policytest.NewWallet(t)
	_, err := p.Authorize(ctx, good, other.Sign(t, good.Message()))
	require.ErrorIs(t, err, policy.ErrInvalidSignature)

	// signing different terms does not authorize these ones
	tampered := good
	tampered.MaxDailySpend = 2_000
	_, err = p.Authorize(ctx, tampered, w.Sign(t, good.Message()))
	require.ErrorIs(t, err, policy.ErrInvalidSignature)

	a, err := p.Authorize(ctx, good, w.Sign(t, good.Message()))
	require.NoError(t, err)
	require.NotEmpty(t, a.ID)
	require.Equal(t, policytest.Start, a.CreatedAt)
}

func TestStatusUnauthorized(t *testing.T) {
	p := policy.New(policy.NewMemoryStore(), signature.Auto{}, policy.WithClock(func() time.Time { return policytest.Start }))
	st, err := p.Status(context.Background(), "wallet", "svc")
	require.NoError(t, err)
	require.Equal(t, policy.StateUnauthorized, st.State)
	require.Nil(t, st.Authorization)
	require.Equal(t, "2026-03-14", st.Day)
}

func TestLimitErrorMessage(t *testing.T) {
	err := &policy.LimitError{Kind: policy.ErrDailyLimitExceeded, Limit: 20_000_000, Attempted: 15_000_000, Spent: 10_000_000}
	require.Equal(t, "policy: daily limit exceeded: 0.015 SOL requested, 0.01 of 0.02 SOL already spent today", err.Error())

	err = &policy.LimitError{Kind: policy.ErrPerTransactionLimitExceeded, Limit: 1_000_000_000, Attempted: 1_500_000_000}
	require.Equal(t, "policy: per-transaction limit exceeded: 1.5 SOL requested, limit 1 SOL", err.Error())
}

func TestDayOf(t *testing.T) {
	east := time.FixedZone("east", 10*3600)
	require.Equal(t, "2026-03-13", policy.DayOf(time.Date(2026, 3, 14, 5, 0, 0, 0, east)))
	require.Equal(t, "2026-03-14", policy.DayOf(time.Date(2026, 3, 14, 23, 59, 59, 0, time.UTC)))
}
