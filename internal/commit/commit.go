// Package commit holds the hash primitives shared by the circuits and the
// witness builders: MiMC in and out of circuit, and a keccak hash-to-field
// for turning free-form identifiers (wallets, service keys, ids) into field
// elements.
package commit

import (
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"github.com/consensys/gnark/frontend"
	stdhash "github.com/consensys/gnark/std/hash"
	gmimc "github.com/consensys/gnark/std/hash/mimc"
	"github.com/ethereum/go-ethereum/crypto"
)

// New returns the in-circuit hasher matching Sum.
func New(api frontend.API) stdhash.FieldHasher {
	h, err := gmimc.NewMiMC(api)
	if err != nil {
		panic(err)
	}
	return &h
}

// Sum is the native counterpart of New: MiMC over the given field elements.
// Values are reduced modulo the scalar field before hashing.
func Sum(values ...*big.Int) *big.Int {
	h := mimc.NewMiMC()
	for _, v := range values {
		var e fr.Element
		e.SetBigInt(v)
		b := e.Bytes()
		_, _ = h.Write(b[:])
	}
	var out fr.Element
	out.SetBytes(h.Sum(nil))
	return out.BigInt(new(big.Int))
}

// ToField returns keccak256(s) reduced into the scalar field.
func ToField(s string) *big.Int {
	var e fr.Element
	e.SetBytes(crypto.Keccak256([]byte(s)))
	return e.BigInt(new(big.Int))
}

// Modulus returns the scalar field modulus.
func Modulus() *big.Int { return fr.Modulus() }

// InField reports whether v is a canonical field element.
func InField(v *big.Int) bool {
	return v.Sign() >= 0 && v.Cmp(fr.Modulus()) < 0
}
