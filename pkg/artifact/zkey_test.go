package artifact

import (
	"bytes"
	"testing"

	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/zkspend/circuits"
)

type tinyCircuit struct {
	X frontend.Variable
	Y frontend.Variable `gnark:",public"`
}

func (c *tinyCircuit) Define(api frontend.API) error {
	api.AssertIsEqual(api.Mul(c.X, c.X), c.Y)
	return nil
}

func tinyKeys(t *testing.T) (groth16.ProvingKey, groth16.VerifyingKey) {
	cs, err := frontend.Compile(circuits.Curve().ScalarField(), r1cs.NewBuilder, &tinyCircuit{})
	require.NoError(t, err)
	pk, vk, err := groth16.Setup(cs)
	require.NoError(t, err)
	return pk, vk
}

func TestZKeyRoundTrip(t *testing.T) {
	pk, vk := tinyKeys(t)

	var buf bytes.Buffer
	require.NoError(t, WriteZKey(&buf, "tiny", pk, vk))
	raw := buf.Bytes()

	h, gotPK, err := ReadZKey(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, "tiny", h.CircuitID)
	require.Equal(t, circuits.Curve(), h.Curve)
	require.Equal(t, uint16(zkeyVersion), h.Version)
	require.Equal(t, pk.CurveID(), gotPK.CurveID())

	h, gotVK, err := ReadEmbeddedVerifyingKey(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, "tiny", h.CircuitID)
	require.Equal(t, vk.NbPublicWitness(), gotVK.NbPublicWitness())
}

func TestZKeyWithoutEmbeddedKey(t *testing.T) {
	pk, _ := tinyKeys(t)

	var buf bytes.Buffer
	require.NoError(t, WriteZKey(&buf, "tiny", pk, nil))
	_, _, err := ReadEmbeddedVerifyingKey(bytes.NewReader(buf.Bytes()))
	require.ErrorIs(t, err, errNoEmbeddedKey)
}

func TestZKeyMalformed(t *testing.T) {
	pk, _ := tinyKeys(t)

	var buf bytes.Buffer
	require.ErrorIs(t, WriteZKey(&buf, "", pk, nil), ErrBadZKey)

	for name, raw := range map[string][]byte{
		"empty":     nil,
		"bad magic": []byte("NOPE\x00\x01"),
		"truncated": []byte("ZKSP\x00\x01\x00"),
		"version":   []byte("ZKSP\x00\x09\x00\x04\x00\x01a"),
		"curve":     []byte("ZKSP\x00\x01\x00\x63\x00\x01a"),
	} {
		_, _, err := ReadZKey(bytes.NewReader(raw))
		require.ErrorIs(t, err, ErrBadZKey, name)
	}

	require.NoError(t, WriteZKey(&buf, "tiny", pk, nil))
	cut := buf.Bytes()[:buf.Len()/2]
	_, _, err := ReadZKey(bytes.NewReader(cut))
	require.ErrorIs(t, err, ErrBadZKey)
}
