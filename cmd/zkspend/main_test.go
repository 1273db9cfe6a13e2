package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yourorg/zkspend/circuits"
	"github.com/yourorg/zkspend/pkg/artifact"
	"github.com/yourorg/zkspend/pkg/artifact/artifacttest"
	"github.com/yourorg/zkspend/pkg/policy/policytest"
	"github.com/yourorg/zkspend/pkg/settlement"
)

// settlerServer is a minimal idempotent settlement service.
func settlerServer(t *testing.T) *httptest.Server {
	var mu sync.Mutex
	settled := map[string]string{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/settle":
			key := r.Header.Get("Idempotency-Key")
			if _, ok := settled[key]; !ok {
				settled[key] = "tx" + key
			}
			_ = json.NewEncoder(w).Encode(settlement.SettleResult{TxHash: settled[key]})
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/settlements/"):
			tx, ok := settled[strings.TrimPrefix(r.URL.Path, "/settlements/")]
			if !ok {
				http.NotFound(w, r)
				return
			}
			_ = json.NewEncoder(w).Encode(settlement.SettleResult{TxHash: tx})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

type harness struct {
	t    *testing.T
	base []string
}

func (h *harness) run(args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(&stdout, &stderr)
	cmd.SetArgs(append(append([]string(nil), h.base...), args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func (h *harness) must(args ...string) string {
	h.t.Helper()
	out, err := h.run(args...)
	require.NoError(h.t, err, strings.Join(args, " "))
	return out
}

func TestSetup(t *testing.T) {
	dir := t.TempDir()
	h := &harness{t: t, base: []string{"--env", filepath.Join(dir, "none.env"), "--circuits", dir, "--log-level", "error"}}

	out := h.must("setup", circuits.ShadowID)
	require.Contains(t, out, circuits.ShadowID+": ")
	for _, ext := range []string{artifact.ExtR1CS, artifact.ExtZKey, artifact.ExtVKey} {
		_, err := os.Stat(filepath.Join(dir, circuits.ShadowID+ext))
		require.NoError(t, err)
	}

	_, err := h.run("setup", "nope")
	require.ErrorIs(t, err, artifact.ErrUnknownCircuit)
}

func TestPaymentFlow(t *testing.T) {
	dir := t.TempDir()
	settler := settlerServer(t)
	h := &harness{t: t, base: []string{
		"--env", filepath.Join(dir, "none.env"),
		"--circuits", artifacttest.Dir(t),
		"--db", filepath.Join(dir, "ledger.db"),
		"--settler", settler.URL,
		"--log-level", "error",
	}}
	w := policytest.NewWallet(t)
	wallet := []string{"--wallet", w.Address(), "--service", "api.example.com"}
	until := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)

	terms := append([]string{"authorize", "--max-per-tx", "0.01", "--max-daily", "0.02", "--valid-until", until}, wallet...)
	msg := h.must(append(terms, "--print-message")...)
	require.Contains(t, msg, "max daily spend: 20000000 lamports")

	_, err := h.run(append(terms, "--signature", w.Sign(t, []byte("something else")))...)
	require.Error(t, err)
	h.must(append(terms, "--signature", w.Sign(t, []byte(msg)))...)

	var st statusView
	require.NoError(t, json.Unmarshal([]byte(h.must(append([]string{"status"}, wallet...)...)), &st))
	require.Equal(t, "active", string(st.State))
	require.Equal(t, "0.02", st.RemainingSOL)

	var r settlement.Receipt
	out := h.must(append([]string{"pay", "--amount", "0.008", "--resource", "/api/data", "--idempotency-key", "k1"}, wallet...)...)
	require.NoError(t, json.Unmarshal([]byte(out), &r))
	require.Equal(t, "txk1", r.TxHash)
	require.Equal(t, uint64(8_000_000), r.Amount)

	// 8 + 8 fits, the third 8 does not
	batch := filepath.Join(dir, "batch.json")
	var reqs []settlement.PaymentRequest
	for i := 0; i < 2; i++ {
		reqs = append(reqs, settlement.PaymentRequest{Wallet: w.Address(), ServiceKey: "api.example.com", Amount: 8_000_000})
	}
	raw, err := json.Marshal(reqs)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(batch, raw, 0o600))
	var lines []batchLine
	require.NoError(t, json.Unmarshal([]byte(h.must("batch", batch)), &lines))
	require.Len(t, lines, 2)
	var failed int
	for _, l := range lines {
		if l.Error != "" {
			require.Contains(t, l.Error, "daily limit")
			failed++
		}
	}
	require.Equal(t, 1, failed)

	require.NoError(t, json.Unmarshal([]byte(h.must(append([]string{"status"}, wallet...)...)), &st))
	require.Equal(t, "0.016", st.CommittedSOL)
	require.Equal(t, "0.004", st.RemainingSOL)

	var sum settlement.RecoverySummary
	require.NoError(t, json.Unmarshal([]byte(h.must("recover")), &sum))
	require.Equal(t, settlement.RecoverySummary{}, sum)

	revokeMsg := h.must(append([]string{"revoke", "--print-message"}, wallet...)...)
	h.must(append([]string{"revoke", "--signature", w.Sign(t, []byte(revokeMsg))}, wallet...)...)

	_, err = h.run(append([]string{"pay", "--amount", "0.001"}, wallet...)...)
	require.ErrorContains(t, err, "revoked")
}

func TestPayNeedsSettler(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ZKSPEND_SETTLER_URL", "")
	h := &harness{t: t, base: []string{"--env", filepath.Join(dir, "none.env"), "--circuits", dir, "--log-level", "error"}}
	_, err := h.run("pay", "--wallet", policytest.NewWallet(t).Address(), "--service", "svc", "--amount", "0.001")
	require.ErrorContains(t, err, "ZKSPEND_SETTLER_URL")
}
