package witness

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yourorg/zkspend/circuits"
	"github.com/yourorg/zkspend/internal/commit"
)

func spendingDef(t *testing.T) circuits.Definition {
	def, ok := circuits.Lookup(circuits.Spending)
	require.True(t, ok)
	return def
}

func sampleTerms() SpendingTerms {
	return SpendingTerms{
		Wallet:          "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM",
		Service:         "api.example.com",
		AuthorizationID: "auth-1",
		MaxPerTx:        10_000_000,
		MaxDailySpend:   20_000_000,
		ValidUntil:      1_900_000_000,
		SpentToday:      5_000_000,
		Amount:          7_000_000,
		Now:             1_800_000_000,
		Nonce:           "res-1",
	}
}

func TestPublicNames(t *testing.T) {
	require.Equal(t,
		[]string{"authCommitment", "amount", "now", "reservationTag"},
		PublicNames(spendingDef(t)))

	def, _ := circuits.Lookup(circuits.ShadowID)
	require.Equal(t, []string{"commitment", "nullifier", "scope"}, PublicNames(def))
}

func TestBuildSpending(t *testing.T) {
	terms := sampleTerms()
	b, err := Build(spendingDef(t), Spending(terms))
	require.NoError(t, err)
	require.NotNil(t, b.Full)

	auth := AuthCommitment(terms)
	require.Equal(t, []string{
		auth.String(),
		"7000000",
		"1800000000",
		ReservationTag(auth, terms.Nonce).String(),
	}, b.Public)

	pub, err := Public(b.Public)
	require.NoError(t, err)
	again, err := Signals(pub)
	require.NoError(t, err)
	require.Equal(t, b.Public, again)
}

func TestAssignErrors(t *testing.T) {
	def := spendingDef(t)

	in := Spending(sampleTerms())
	delete(in, "nonce")
	_, err := Assign(def, in)
	require.ErrorIs(t, err, ErrMissingInput)

	in = Spending(sampleTerms())
	in["resource"] = "1"
	_, err = Assign(def, in)
	require.ErrorIs(t, err, ErrUnknownInput)

	for _, bad := range []string{"", "abc", "-1", "1.5", "0x10", commit.Modulus().String()} {
		in = Spending(sampleTerms())
		in["amount"] = bad
		_, err = Assign(def, in)
		require.ErrorIs(t, err, ErrInvalidValue, bad)
	}
}

func TestPublicRejectsOutOfField(t *testing.T) {
	_, err := Public([]string{"1", commit.Modulus().String()})
	require.ErrorIs(t, err, ErrInvalidValue)

	w, err := Public(nil)
	require.NoError(t, err)
	got, err := Signals(w)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestInputUnmarshal(t *testing.T) {
	var in Input
	err := json.Unmarshal([]byte(`{"amount":"10","now":1800000000,"big":21888242871839275222246405745257275088548364400416034343698204186575808495616}`), &in)
	require.NoError(t, err)
	require.Equal(t, "10", in["amount"])
	require.Equal(t, "1800000000", in["now"])
	require.Equal(t, "21888242871839275222246405745257275088548364400416034343698204186575808495616", in["big"])

	err = json.Unmarshal([]byte(`{"amount":true}`), &in)
	require.ErrorIs(t, err, ErrInvalidValue)
}
