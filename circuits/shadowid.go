package circuits

import (
	"github.com/consensys/gnark/frontend"

	"github.com/yourorg/zkspend/internal/commit"
)

// ShadowIDCircuit proves knowledge of the secret behind a registered identity
// commitment and derives a scope-bound nullifier from it.
type ShadowIDCircuit struct {
	Commitment frontend.Variable `gnark:",public" json:"commitment"`
	Nullifier  frontend.Variable `gnark:",public" json:"nullifier"`
	Scope      frontend.Variable `gnark:",public" json:"scope"`

	Wallet frontend.Variable `json:"wallet"`
	Secret frontend.Variable `json:"secret"`
}

func (c *ShadowIDCircuit) Define(api frontend.API) error {
	api.AssertIsDifferent(c.Secret, 0)

	h := commit.New(api)
	h.Write(c.Wallet, c.Secret)
	api.AssertIsEqual(h.Sum(), c.Commitment)

	h.Reset()
	h.Write(c.Secret, c.Scope)
	api.AssertIsEqual(h.Sum(), c.Nullifier)
	return nil
}
