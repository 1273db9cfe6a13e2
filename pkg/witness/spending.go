package witness

import (
	"math/big"
	"strconv"

	"github.com/yourorg/zkspend/internal/commit"
)

// SpendingTerms is everything the spending circuit needs to prove one
// reservation against one authorization.
type SpendingTerms struct {
	Wallet          string
	Service         string
	AuthorizationID string
	MaxPerTx        uint64
	MaxDailySpend   uint64
	ValidUntil      int64 // unix seconds
	SpentToday      uint64
	Amount          uint64
	Now             int64 // unix seconds
	Nonce           string
}

func u64(v uint64) *big.Int { return new(big.Int).SetUint64(v) }

func i64(v int64) *big.Int {
	if v < 0 {
		return new(big.Int)
	}
	return big.NewInt(v)
}

// AuthCommitment is the public commitment to an authorization's terms.
func AuthCommitment(t SpendingTerms) *big.Int {
	return commit.Sum(
		commit.ToField(t.Wallet),
		commit.ToField(t.Service),
		u64(t.MaxPerTx),
		u64(t.MaxDailySpend),
		i64(t.ValidUntil),
		commit.ToField(t.AuthorizationID),
	)
}

// ReservationTag binds a proof to a single reservation.
func ReservationTag(auth *big.Int, nonce string) *big.Int {
	return commit.Sum(auth, commit.ToField(nonce))
}

// Spending renders t as spending circuit input.
func Spending(t SpendingTerms) Input {
	auth := AuthCommitment(t)
	return Input{
		"authCommitment":  auth.String(),
		"amount":          strconv.FormatUint(t.Amount, 10),
		"now":             i64(t.Now).String(),
		"reservationTag":  ReservationTag(auth, t.Nonce).String(),
		"wallet":          commit.ToField(t.Wallet).String(),
		"service":         commit.ToField(t.Service).String(),
		"maxPerTx":        strconv.FormatUint(t.MaxPerTx, 10),
		"maxDailySpend":   strconv.FormatUint(t.MaxDailySpend, 10),
		"spentToday":      strconv.FormatUint(t.SpentToday, 10),
		"validUntil":      i64(t.ValidUntil).String(),
		"authorizationId": commit.ToField(t.AuthorizationID).String(),
		"nonce":           commit.ToField(t.Nonce).String(),
	}
}
