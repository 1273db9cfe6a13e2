package settlement_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yourorg/zkspend/pkg/proof"
	"github.com/yourorg/zkspend/pkg/settlement"
)

func TestHTTPSettler(t *testing.T) {
	var gotKey string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/settle":
			gotKey = r.Header.Get("Idempotency-Key")
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
			switch gotKey {
			case "broke":
				w.WriteHeader(http.StatusPaymentRequired)
				_, _ = w.Write([]byte(`{"error":"escrow balance too low","code":"insufficient_escrow"}`))
			case "down":
				w.WriteHeader(http.StatusBadGateway)
			default:
				_, _ = w.Write([]byte(`{"txHash":"5xTx"}`))
			}
		case r.Method == http.MethodGet && r.URL.Path == "/settlements/known":
			_, _ = w.Write([]byte(`{"tx_hash":"4yTx"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	s := settlement.NewHTTPSettler(srv.URL+"/", nil)
	ctx := context.Background()
	req := settlement.SettleRequest{
		IdempotencyKey: "k1",
		Proof:          &proof.Proof{Protocol: "groth16", Curve: "bn128"},
		PublicSignals:  proof.PublicSignals{"1", "2"},
		Amount:         1_000_000,
		Resource:       "/api/data",
	}

	r, err := s.Settle(ctx, req)
	require.NoError(t, err)
	require.Equal(t, "5xTx", r.TxHash)
	require.Equal(t, "k1", gotKey)
	require.Equal(t, "1000000", gotBody["amount"])
	require.Equal(t, "/api/data", gotBody["resource"])
	require.NotContains(t, gotBody, "IdempotencyKey")

	req.IdempotencyKey = "broke"
	_, err = s.Settle(ctx, req)
	require.ErrorIs(t, err, settlement.ErrSettlementRejected)
	var re *settlement.RejectedError
	require.True(t, errors.As(err, &re))
	require.Equal(t, http.StatusPaymentRequired, re.Status)
	require.Equal(t, "insufficient_escrow", re.Code)

	req.IdempotencyKey = "down"
	_, err = s.Settle(ctx, req)
	require.ErrorIs(t, err, settlement.ErrSettlementUnreachable)

	r, err = s.Lookup(ctx, "known")
	require.NoError(t, err)
	require.Equal(t, "4yTx", r.TxHash)

	_, err = s.Lookup(ctx, "missing")
	require.ErrorIs(t, err, settlement.ErrSettlementNotFound)
}

func TestHTTPSettlerUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	s := settlement.NewHTTPSettler(srv.URL, &http.Client{Timeout: 20 * time.Millisecond})
	_, err := s.Settle(context.Background(), settlement.SettleRequest{IdempotencyKey: "k"})
	require.ErrorIs(t, err, settlement.ErrSettlementUnreachable)

	srv.Close()
	_, err = s.Lookup(context.Background(), "k")
	require.ErrorIs(t, err, settlement.ErrSettlementUnreachable)
}

func TestHTTPSettlerStatusMapping(t *testing.T) {
	tests := map[string]struct {
		status    int
		body      string
		want      error
		wantInMsg string
	}{
		"request timeout":   {status: http.StatusRequestTimeout, want: settlement.ErrSettlementUnreachable},
		"too early":         {status: http.StatusTooEarly, want: settlement.ErrSettlementUnreachable},
		"too many requests": {status: http.StatusTooManyRequests, body: `{"error":"slow down"}`, want: settlement.ErrSettlementUnreachable, wantInMsg: "slow down"},
		"bad request":       {status: http.StatusBadRequest, body: `{"error":"bad proof"}`, want: settlement.ErrSettlementRejected, wantInMsg: "bad proof"},
		"html rejection":    {status: http.StatusForbidden, body: "<h1>blocked by proxy</h1>", want: settlement.ErrSettlementRejected, wantInMsg: "blocked by proxy"},
		"html gateway page": {status: http.StatusServiceUnavailable, body: "maintenance window", want: settlement.ErrSettlementUnreachable, wantInMsg: "maintenance window"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := settlement.NewHTTPSettler(srv.URL, nil).Settle(context.Background(), settlement.SettleRequest{IdempotencyKey: "k"})
			require.ErrorIs(t, err, tc.want)
			if tc.wantInMsg != "" {
				require.ErrorContains(t, err, tc.wantInMsg)
			}
		})
	}
}

func TestBackoff(t *testing.T) {
	errFlaky := errors.New("flaky")
	errFatal := errors.New("fatal")
	retryable := func(err error) bool { return errors.Is(err, errFlaky) }
	b := settlement.Backoff{Attempts: 3, Initial: time.Millisecond, Factor: 2}
	ctx := context.Background()

	calls := 0
	err := b.Do(ctx, retryable, func(context.Context) error {
		calls++
		if calls < 3 {
			return errFlaky
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)

	calls = 0
	err = b.Do(ctx, retryable, func(context.Context) error { calls++; return errFlaky })
	require.ErrorIs(t, err, errFlaky)
	require.Equal(t, 3, calls)

	calls = 0
	err = b.Do(ctx, retryable, func(context.Context) error { calls++; return errFatal })
	require.ErrorIs(t, err, errFatal)
	require.Equal(t, 1, calls)

	// a cancelled context stops the waiting, not the first attempt
	cctx, cancel := context.WithCancel(ctx)
	cancel()
	calls = 0
	slow := settlement.Backoff{Attempts: 5, Initial: time.Hour}
	err = slow.Do(cctx, retryable, func(context.Context) error { calls++; return errFlaky })
	require.ErrorIs(t, err, errFlaky)
	require.Equal(t, 1, calls)
}

func TestExplorerURL(t *testing.T) {
	for network, want := range map[string]string{
		"solana-mainnet": "https://explorer.solana.com/tx/abc",
		"solana-testnet": "https://explorer.solana.com/tx/abc?cluster=testnet",
		"solana-devnet":  "https://explorer.solana.com/tx/abc?cluster=devnet",
		"":               "https://explorer.solana.com/tx/abc?cluster=devnet",
	} {
		require.Equal(t, want, settlement.ExplorerURL(network, "abc"), network)
	}
}
