package commit_test

import (
	"math/big"
	"testing"

	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/test"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/zkspend/circuits"
	"github.com/yourorg/zkspend/internal/commit"
)

/* ---------------- circuit ---------------- */

type mimc3Circuit struct {
	In  [3]frontend.Variable
	Out frontend.Variable `gnark:",public"`
}

func (c *mimc3Circuit) Define(api frontend.API) error {
	h := commit.New(api)
	h.Write(c.In[:]...)
	api.AssertIsEqual(h.Sum(), c.Out)
	return nil
}

/* ---------------- tests ------------------- */

func TestSumMatchesCircuit(t *testing.T) {
	assert := test.NewAssert(t)

	in := []*big.Int{big.NewInt(1), big.NewInt(10_000_000), commit.ToField("wallet")}
	var w mimc3Circuit
	for i, v := range in {
		w.In[i] = v
	}
	w.Out = commit.Sum(in...)

	assert.ProverSucceeded(new(mimc3Circuit), &w, test.WithCurves(circuits.Curve()))
}

func TestSumDeterministic(t *testing.T) {
	a := commit.Sum(big.NewInt(7), big.NewInt(8))
	b := commit.Sum(big.NewInt(7), big.NewInt(8))
	require.Equal(t, a, b)
	require.NotEqual(t, a, commit.Sum(big.NewInt(8), big.NewInt(7)))
}

func TestToFieldVectors(t *testing.T) {
	vec := []string{"", "spending", "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"}
	for _, v := range vec {
		got := commit.ToField(v)
		require.True(t, commit.InField(got), v)
		require.Equal(t, got, commit.ToField(v), v)
	}
	require.NotEqual(t, commit.ToField("a"), commit.ToField("b"))
}

func TestInField(t *testing.T) {
	require.True(t, commit.InField(big.NewInt(0)))
	require.False(t, commit.InField(big.NewInt(-1)))
	require.False(t, commit.InField(commit.Modulus()))
	require.True(t, commit.InField(new(big.Int).Sub(commit.Modulus(), big.NewInt(1))))
}
