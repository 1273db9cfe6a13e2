// Package proof holds the JSON form of a groth16 BN254 proof and the wire
// messages of the proof service. Every coordinate and signal is a decimal
// string, in the layout snarkjs emits.
package proof

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fp"
	"github.com/consensys/gnark/backend/groth16"
	groth16bn254 "github.com/consensys/gnark/backend/groth16/bn254"

	"github.com/yourorg/zkspend/internal/commit"
)

const (
	Protocol = "groth16"
	Curve    = "bn128"
)

var ErrMalformed = errors.New("proof: malformed")

type Proof struct {
	PiA      []string   `json:"pi_a"`
	PiB      [][]string `json:"pi_b"`
	PiC      []string   `json:"pi_c"`
	Protocol string     `json:"protocol"`
	Curve    string     `json:"curve"`

	// Only set for circuits that use gnark commitments.
	Commitments   [][]string `json:"commitments,omitempty"`
	CommitmentPok []string   `json:"commitmentPok,omitempty"`
}

// PublicSignals are the public inputs of a proof, in circuit order.
type PublicSignals []string

// Validate reports whether every signal is a canonical field element.
func (s PublicSignals) Validate() error {
	for i, v := range s {
		n, ok := new(big.Int).SetString(v, 10)
		if !ok || !commit.InField(n) {
			return fmt.Errorf("%w: public signal %d", ErrMalformed, i)
		}
	}
	return nil
}

// Envelope is what the prover CLI prints and what settlement endpoints accept.
type Envelope struct {
	Proof         *Proof        `json:"proof"`
	PublicSignals PublicSignals `json:"publicSignals"`
}

func fpString(e *fp.Element) string { return e.Text(10) }

func g1(p *bn254.G1Affine) []string {
	return []string{fpString(&p.X), fpString(&p.Y), "1"}
}

func FromGroth16(p groth16.Proof) (*Proof, error) {
	bp, ok := p.(*groth16bn254.Proof)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported proof type %T", ErrMalformed, p)
	}
	out := &Proof{
		PiA: g1(&bp.Ar),
		PiB: [][]string{
			{fpString(&bp.Bs.X.A0), fpString(&bp.Bs.X.A1)},
			{fpString(&bp.Bs.Y.A0), fpString(&bp.Bs.Y.A1)},
			{"1", "0"},
		},
		PiC:      g1(&bp.Krs),
		Protocol: Protocol,
		Curve:    Curve,
	}
	if len(bp.Commitments) > 0 {
		for i := range bp.Commitments {
			out.Commitments = append(out.Commitments, g1(&bp.Commitments[i]))
		}
		out.CommitmentPok = g1(&bp.CommitmentPok)
	}
	return out, nil
}

func parseFp(s string, dst *fp.Element) error {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 || n.Cmp(fp.Modulus()) >= 0 {
		return fmt.Errorf("%w: coordinate %q", ErrMalformed, s)
	}
	dst.SetBigInt(n)
	return nil
}

func parseG1(c []string, dst *bn254.G1Affine) error {
	if len(c) != 3 || c[2] != "1" {
		return fmt.Errorf("%w: g1 point", ErrMalformed)
	}
	if err := parseFp(c[0], &dst.X); err != nil {
		return err
	}
	if err := parseFp(c[1], &dst.Y); err != nil {
		return err
	}
	if dst.IsInfinity() || !dst.IsOnCurve() || !dst.IsInSubGroup() {
		return fmt.Errorf("%w: g1 point not on curve", ErrMalformed)
	}
	return nil
}

func parseG2(c [][]string, dst *bn254.G2Affine) error {
	if len(c) != 3 || len(c[0]) != 2 || len(c[1]) != 2 ||
		len(c[2]) != 2 || c[2][0] != "1" || c[2][1] != "0" {
		return fmt.Errorf("%w: g2 point", ErrMalformed)
	}
	for _, x := range []struct {
		s   string
		dst *fp.Element
	}{
		{c[0][0], &dst.X.A0}, {c[0][1], &dst.X.A1},
		{c[1][0], &dst.Y.A0}, {c[1][1], &dst.Y.A1},
	} {
		if err := parseFp(x.s, x.dst); err != nil {
			return err
		}
	}
	if dst.IsInfinity() || !dst.IsOnCurve() || !dst.IsInSubGroup() {
		return fmt.Errorf("%w: g2 point not on curve", ErrMalformed)
	}
	return nil
}

// Groth16 decodes p back into a gnark proof, rejecting points that are not
// on the curve or not in the prime-order subgroup.
func (p *Proof) Groth16() (groth16.Proof, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil proof", ErrMalformed)
	}
	if p.Protocol != "" && p.Protocol != Protocol {
		return nil, fmt.Errorf("%w: protocol %q", ErrMalformed, p.Protocol)
	}
	if p.Curve != "" && p.Curve != Curve && p.Curve != "bn254" {
		return nil, fmt.Errorf("%w: curve %q", ErrMalformed, p.Curve)
	}
	out := new(groth16bn254.Proof)
	if err := parseG1(p.PiA, &out.Ar); err != nil {
		return nil, err
	}
	if err := parseG2(p.PiB, &out.Bs); err != nil {
		return nil, err
	}
	if err := parseG1(p.PiC, &out.Krs); err != nil {
		return nil, err
	}
	if len(p.Commitments) > 0 {
		out.Commitments = make([]bn254.G1Affine, len(p.Commitments))
		for i := range p.Commitments {
			if err := parseG1(p.Commitments[i], &out.Commitments[i]); err != nil {
				return nil, err
			}
		}
		if err := parseG1(p.CommitmentPok, &out.CommitmentPok); err != nil {
			return nil, err
		}
	}
	return out, nil
}
