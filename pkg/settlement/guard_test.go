package settlement_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/zkspend/pkg/policy"
	"github.com/yourorg/zkspend/pkg/settlement"
)

func TestGuard(t *testing.T) {
	e := newEnv(t)
	c := e.coordinator(&stubProver{})
	ctx := context.Background()

	var ran int
	fetch := settlement.Guard(c, settlement.GuardSpec{
		Wallet:     e.wallet.Address(),
		ServiceKey: service,
		Amount:     8 * milliSOL,
		Resource:   "/api/premium",
	}, func(_ context.Context, r *settlement.Receipt) (string, error) {
		ran++
		return "data for " + r.TxHash, nil
	})

	v, err := fetch(ctx)
	require.NoError(t, err)
	require.Contains(t, v, "data for tx-")
	v, err = fetch(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, v)
	require.Equal(t, 2, ran)

	// each call pays under its own key
	calls := e.settler.Calls()
	require.Len(t, calls, 2)
	require.NotEqual(t, calls[0].IdempotencyKey, calls[1].IdempotencyKey)

	// 16 of 20 mSOL spent: the third call is refused and fn never runs
	v, err = fetch(ctx)
	require.ErrorIs(t, err, policy.ErrDailyLimitExceeded)
	require.Empty(t, v)
	require.Equal(t, 2, ran)
}

func TestTrackSpending(t *testing.T) {
	e := newEnv(t)
	c := e.coordinator(&stubProver{})
	var buf bytes.Buffer
	log := zerolog.New(&buf)

	work := settlement.TrackSpending(e.policy, e.wallet.Address(), service, log, func(ctx context.Context) (int, error) {
		for i := 0; i < 3; i++ {
			if _, err := c.Pay(ctx, e.request(milliSOL)); err != nil {
				return i, err
			}
		}
		return 3, nil
	})
	n, err := work(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Contains(t, buf.String(), `"spent":"0.003"`)
	require.Contains(t, buf.String(), `"message":"spending tracked"`)
}
