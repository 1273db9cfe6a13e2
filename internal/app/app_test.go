package app_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yourorg/zkspend/internal/app"
	"github.com/yourorg/zkspend/internal/config"
	"github.com/yourorg/zkspend/internal/logging"
	"github.com/yourorg/zkspend/pkg/policy"
	"github.com/yourorg/zkspend/pkg/policy/policytest"
	"github.com/yourorg/zkspend/pkg/prover"
)

func TestNewInMemory(t *testing.T) {
	cfg := config.Default()
	cfg.CircuitDir = t.TempDir()
	a, err := app.New(cfg, logging.Disabled())
	require.NoError(t, err)
	defer a.Close()

	require.IsType(t, &prover.Generator{}, a.Prover)
	require.NotNil(t, a.Server().Handler())

	_, err = a.Coordinator()
	require.ErrorIs(t, err, app.ErrNoSettler)

	cfg.SettlerURL = "http://127.0.0.1:1"
	b, err := app.New(cfg, logging.Disabled())
	require.NoError(t, err)
	defer b.Close()
	c, err := b.Coordinator()
	require.NoError(t, err)
	require.NotNil(t, c)
}

func TestRemoteProver(t *testing.T) {
	cfg := config.Default()
	cfg.ProverURL = "http://127.0.0.1:3001"
	a, err := app.New(cfg, logging.Disabled())
	require.NoError(t, err)
	defer a.Close()
	require.IsType(t, &prover.Client{}, a.Prover)
}

func TestLedgerSurvivesRestart(t *testing.T) {
	cfg := config.Default()
	cfg.DatabaseURL = filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()
	w := policytest.NewWallet(t)

	a, err := app.New(cfg, logging.Disabled())
	require.NoError(t, err)
	policytest.Authorize(t, a.Policy, w, "svc", 10, 100, time.Now().Add(time.Hour))
	_, err = a.Policy.TryReserve(ctx, policy.ReserveRequest{Wallet: w.Address(), ServiceKey: "svc", Amount: 7})
	require.NoError(t, err)
	require.NoError(t, a.Close())

	b, err := app.New(cfg, logging.Disabled())
	require.NoError(t, err)
	defer b.Close()
	pending, err := b.Policy.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	st, err := b.Policy.Status(ctx, w.Address(), "svc")
	require.NoError(t, err)
	require.Equal(t, uint64(7), st.Reserved)
}
