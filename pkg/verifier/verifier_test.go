package verifier_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yourorg/zkspend/circuits"
	"github.com/yourorg/zkspend/internal/commit"
	"github.com/yourorg/zkspend/pkg/artifact"
	"github.com/yourorg/zkspend/pkg/artifact/artifacttest"
	"github.com/yourorg/zkspend/pkg/proof"
	"github.com/yourorg/zkspend/pkg/prover"
	"github.com/yourorg/zkspend/pkg/verifier"
	"github.com/yourorg/zkspend/pkg/witness"
)

func validInput(id string) witness.Input {
	switch id {
	case circuits.Spending:
		return witness.Spending(witness.SpendingTerms{
			Wallet:          "wallet",
			Service:         "service",
			AuthorizationID: "auth",
			MaxPerTx:        100,
			MaxDailySpend:   1000,
			ValidUntil:      2000,
			SpentToday:      900,
			Amount:          100,
			Now:             1999,
			Nonce:           "n",
		})
	case circuits.ShadowID:
		wallet, secret, scope := commit.ToField("w"), big.NewInt(5), commit.ToField("s")
		return witness.Input{
			"commitment": commit.Sum(wallet, secret).String(),
			"nullifier":  commit.Sum(secret, scope).String(),
			"scope":      scope.String(),
			"wallet":     wallet.String(),
			"secret":     secret.String(),
		}
	}
	return nil
}

func TestRoundTripEveryCircuit(t *testing.T) {
	cache := artifact.Open(artifacttest.Dir(t))
	g := prover.New(cache)
	v := verifier.New(cache)
	ctx := context.Background()

	for _, id := range circuits.IDs() {
		t.Run(id, func(t *testing.T) {
			p, signals, err := g.Generate(ctx, id, validInput(id))
			require.NoError(t, err)

			for i := 0; i < 2; i++ {
				ok, err := v.Verify(ctx, id, p, signals)
				require.NoError(t, err)
				require.True(t, ok)
			}

			tampered := append(proof.PublicSignals(nil), signals...)
			n, _ := new(big.Int).SetString(tampered[0], 10)
			tampered[0] = n.Add(n, big.NewInt(1)).String()
			ok, err := v.Verify(ctx, id, p, tampered)
			require.NoError(t, err)
			require.False(t, ok)

			ok, err = v.Verify(ctx, id, p, signals[:len(signals)-1])
			require.NoError(t, err)
			require.False(t, ok)

			ok, err = v.Verify(ctx, id, p, append(signals, "1"))
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestMalformedProofIsInvalid(t *testing.T) {
	cache := artifact.Open(artifacttest.Dir(t))
	p, signals, err := prover.New(cache).Generate(context.Background(), circuits.Spending, validInput(circuits.Spending))
	require.NoError(t, err)

	v := verifier.New(cache)
	bad := *p
	bad.PiA = []string{"1", "3", "1"}
	ok, err := v.Verify(context.Background(), circuits.Spending, &bad, signals)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = v.Verify(context.Background(), circuits.Spending, nil, signals)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = v.Verify(context.Background(), circuits.Spending, p, proof.PublicSignals{"x", "1", "2", "3"})
	require.NoError(t, err)
	require.False(t, ok)

	// a proof for one circuit does not verify under another circuit's key
	ok, err = v.Verify(context.Background(), circuits.ShadowID, p, signals[:3])
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerifyWithoutKey(t *testing.T) {
	v := verifier.New(artifact.Open(t.TempDir()))
	_, err := v.Verify(context.Background(), circuits.Spending, &proof.Proof{}, nil)
	require.ErrorIs(t, err, artifact.ErrVerificationKeyUnavailable)
}
