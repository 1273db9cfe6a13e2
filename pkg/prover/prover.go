// Package prover turns named circuit inputs into groth16 proofs, either
// locally from cached artifacts or through a remote proof service.
package prover

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/consensys/gnark/backend/groth16"
	"github.com/rs/zerolog"

	"github.com/yourorg/zkspend/internal/metrics"
	"github.com/yourorg/zkspend/pkg/artifact"
	"github.com/yourorg/zkspend/pkg/proof"
	"github.com/yourorg/zkspend/pkg/witness"
)

var ErrProofGenerationFailed = errors.New("prover: proof generation failed")

// ArtifactSource is satisfied by *artifact.Cache.
type ArtifactSource interface {
	Load(ctx context.Context, id string) (*artifact.Artifact, error)
}

type Generator struct {
	artifacts ArtifactSource
	log       zerolog.Logger
	metrics   *metrics.Metrics
}

type Option func(*Generator)

func WithLogger(l zerolog.Logger) Option { return func(g *Generator) { g.log = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(g *Generator) { g.metrics = m } }

func New(artifacts ArtifactSource, opts ...Option) *Generator {
	g := &Generator{artifacts: artifacts, log: zerolog.Nop()}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Generate proves in against circuitID. Artifact errors are returned as is;
// anything wrong with the input or its constraints is ErrProofGenerationFailed.
func (g *Generator) Generate(ctx context.Context, circuitID string, in witness.Input) (*proof.Proof, proof.PublicSignals, error) {
	a, err := g.artifacts.Load(ctx, circuitID)
	if err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	start := time.Now()
	p, signals, err := Prove(a, in)
	g.metrics.ProofGenerated(circuitID, time.Since(start), err)
	if err != nil {
		g.log.Debug().Err(err).Str("circuit", circuitID).Msg("proof generation failed")
		return nil, nil, err
	}
	g.log.Debug().Str("circuit", circuitID).Dur("took", time.Since(start)).Msg("proof generated")
	return p, signals, nil
}

// Prove runs the prover for a single artifact. It does not touch any cache.
func Prove(a *artifact.Artifact, in witness.Input) (p *proof.Proof, signals proof.PublicSignals, err error) {
	defer func() {
		if r := recover(); r != nil {
			p, signals = nil, nil
			err = fmt.Errorf("%w: %v", ErrProofGenerationFailed, r)
		}
	}()

	bundle, err := witness.Build(a.Definition, in)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrProofGenerationFailed, err)
	}
	gp, err := groth16.Prove(a.CS, a.PK, bundle.Full)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrProofGenerationFailed, err)
	}
	p, err = proof.FromGroth16(gp)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrProofGenerationFailed, err)
	}
	return p, bundle.Public, nil
}
