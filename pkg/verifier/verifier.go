// Package verifier checks groth16 proofs against cached verifying keys.
package verifier

import (
	"context"

	"github.com/consensys/gnark/backend/groth16"
	"github.com/rs/zerolog"

	"github.com/yourorg/zkspend/internal/metrics"
	"github.com/yourorg/zkspend/pkg/proof"
	"github.com/yourorg/zkspend/pkg/witness"
)

// KeySource is satisfied by *artifact.Cache.
type KeySource interface {
	VerifyingKey(ctx context.Context, id string) (groth16.VerifyingKey, error)
}

type Verifier struct {
	keys    KeySource
	log     zerolog.Logger
	metrics *metrics.Metrics
}

type Option func(*Verifier)

func WithLogger(l zerolog.Logger) Option { return func(v *Verifier) { v.log = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(v *Verifier) { v.metrics = m } }

func New(keys KeySource, opts ...Option) *Verifier {
	v := &Verifier{keys: keys, log: zerolog.Nop()}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Verify reports whether p is a valid proof for signals under circuitID's
// verifying key. The only error is a key that cannot be resolved; a bad
// proof of any kind is (false, nil).
func (v *Verifier) Verify(ctx context.Context, circuitID string, p *proof.Proof, signals proof.PublicSignals) (bool, error) {
	vk, err := v.keys.VerifyingKey(ctx, circuitID)
	if err != nil {
		v.metrics.Verified(circuitID, false, err)
		return false, err
	}
	ok := VerifyWith(vk, p, signals)
	v.metrics.Verified(circuitID, ok, nil)
	if !ok {
		v.log.Debug().Str("circuit", circuitID).Msg("proof rejected")
	}
	return ok, nil
}

// VerifyWith is the pure check behind Verify.
func VerifyWith(vk groth16.VerifyingKey, p *proof.Proof, signals proof.PublicSignals) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	if len(signals) != vk.NbPublicWitness() {
		return false
	}
	gp, err := p.Groth16()
	if err != nil {
		return false
	}
	pub, err := witness.Public(signals)
	if err != nil {
		return false
	}
	return groth16.Verify(gp, vk, pub) == nil
}
