package circuits

import (
	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/frontend"

	"github.com/yourorg/zkspend/internal/commit"
)

func Curve() ecc.ID { return ecc.BN254 }

// AmountBits bounds every amount, limit and timestamp in the spending
// circuit so that in-field additions cannot wrap.
const AmountBits = 64

// SpendingCircuit proves that a reserved amount fits the terms of an
// authorization without disclosing the terms themselves.
//
// Public: the authorization commitment, the amount, the proving time and a
// per-reservation tag. Private: the terms, the amount already spent or
// reserved today, and the reservation nonce.
type SpendingCircuit struct {
	AuthCommitment frontend.Variable `gnark:",public" json:"authCommitment"`
	Amount         frontend.Variable `gnark:",public" json:"amount"`
	Now            frontend.Variable `gnark:",public" json:"now"`
	ReservationTag frontend.Variable `gnark:",public" json:"reservationTag"`

	Wallet          frontend.Variable `json:"wallet"`
	Service         frontend.Variable `json:"service"`
	MaxPerTx        frontend.Variable `json:"maxPerTx"`
	MaxDailySpend   frontend.Variable `json:"maxDailySpend"`
	SpentToday      frontend.Variable `json:"spentToday"`
	ValidUntil      frontend.Variable `json:"validUntil"`
	AuthorizationID frontend.Variable `json:"authorizationId"`
	Nonce           frontend.Variable `json:"nonce"`
}

func (c *SpendingCircuit) Define(api frontend.API) error {
	for _, v := range []frontend.Variable{
		c.Amount, c.MaxPerTx, c.MaxDailySpend, c.SpentToday, c.ValidUntil, c.Now,
	} {
		api.ToBinary(v, AmountBits)
	}

	api.AssertIsDifferent(c.Amount, 0)
	api.AssertIsLessOrEqual(c.Amount, c.MaxPerTx)
	api.AssertIsLessOrEqual(api.Add(c.SpentToday, c.Amount), c.MaxDailySpend)
	api.AssertIsLessOrEqual(c.Now, c.ValidUntil)

	h := commit.New(api)
	h.Write(c.Wallet, c.Service, c.MaxPerTx, c.MaxDailySpend, c.ValidUntil, c.AuthorizationID)
	api.AssertIsEqual(h.Sum(), c.AuthCommitment)

	h.Reset()
	h.Write(c.AuthCommitment, c.Nonce)
	api.AssertIsEqual(h.Sum(), c.ReservationTag)
	return nil
}
