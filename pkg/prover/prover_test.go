package prover_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yourorg/zkspend/circuits"
	"github.com/yourorg/zkspend/internal/commit"
	"github.com/yourorg/zkspend/pkg/artifact"
	"github.com/yourorg/zkspend/pkg/artifact/artifacttest"
	"github.com/yourorg/zkspend/pkg/prover"
	"github.com/yourorg/zkspend/pkg/witness"
)

func spendingInput(spent, amount uint64) witness.Input {
	return witness.Spending(witness.SpendingTerms{
		Wallet:          "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM",
		Service:         "api.example.com",
		AuthorizationID: "auth-1",
		MaxPerTx:        10_000_000,
		MaxDailySpend:   20_000_000,
		ValidUntil:      1_900_000_000,
		SpentToday:      spent,
		Amount:          amount,
		Now:             1_800_000_000,
		Nonce:           "res-1",
	})
}

func TestGenerate(t *testing.T) {
	cache := artifact.Open(artifacttest.Dir(t))
	g := prover.New(cache)

	p, signals, err := g.Generate(context.Background(), circuits.Spending, spendingInput(0, 10_000_000))
	require.NoError(t, err)
	require.Len(t, p.PiA, 3)
	require.Len(t, p.PiB, 3)
	require.Len(t, p.PiC, 3)
	require.Equal(t, "groth16", p.Protocol)
	require.Equal(t, "bn128", p.Curve)
	require.Len(t, signals, 4)
	require.Equal(t, "10000000", signals[1])
	require.NoError(t, signals.Validate())
}

func TestGenerateUnsatisfiedLeavesCacheUntouched(t *testing.T) {
	cache := artifact.Open(artifacttest.Dir(t))
	g := prover.New(cache)
	ctx := context.Background()

	before, err := cache.Load(ctx, circuits.Spending)
	require.NoError(t, err)

	// 15M already spent + 10M is over the 20M daily limit
	_, _, err = g.Generate(ctx, circuits.Spending, spendingInput(15_000_000, 10_000_000))
	require.ErrorIs(t, err, prover.ErrProofGenerationFailed)

	after, err := cache.Load(ctx, circuits.Spending)
	require.NoError(t, err)
	require.Same(t, before, after)
	require.Equal(t, []string{circuits.Spending}, cache.Loaded())

	_, _, err = g.Generate(ctx, circuits.Spending, spendingInput(0, 1))
	require.NoError(t, err)
}

func TestGenerateBadInput(t *testing.T) {
	cache := artifact.Open(artifacttest.Dir(t))
	g := prover.New(cache)
	ctx := context.Background()

	in := spendingInput(0, 1)
	delete(in, "nonce")
	_, _, err := g.Generate(ctx, circuits.Spending, in)
	require.ErrorIs(t, err, prover.ErrProofGenerationFailed)

	in = spendingInput(0, 1)
	in["amount"] = "1.5"
	_, _, err = g.Generate(ctx, circuits.Spending, in)
	require.ErrorIs(t, err, prover.ErrProofGenerationFailed)

	_, _, err = g.Generate(ctx, "nope", in)
	require.ErrorIs(t, err, artifact.ErrArtifactNotFound)
}

func TestGenerateShadowID(t *testing.T) {
	a, err := artifact.Open(artifacttest.Dir(t)).Load(context.Background(), circuits.ShadowID)
	require.NoError(t, err)

	wallet := commit.ToField("wallet")
	secret := big.NewInt(987654321)
	scope := commit.ToField("scope")
	_, signals, err := prover.Prove(a, witness.Input{
		"commitment": commit.Sum(wallet, secret).String(),
		"nullifier":  commit.Sum(secret, scope).String(),
		"scope":      scope.String(),
		"wallet":     wallet.String(),
		"secret":     secret.String(),
	})
	require.NoError(t, err)
	require.Equal(t, commit.Sum(wallet, secret).String(), signals[0])
}
