// Command verifier checks a proof against a verifying key:
//
//	verifier --proof proof.json [--public public.json] --vk <key.vkey|key.zkey>
//
// proof.json is either a bare proof or the {proof, publicSignals} document
// the prover prints, in which case --public may be omitted.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/yourorg/zkspend/internal/logging"
	"github.com/yourorg/zkspend/pkg/artifact"
	"github.com/yourorg/zkspend/pkg/proof"
	"github.com/yourorg/zkspend/pkg/verifier"
)

var errNotVerified = errors.New("verification failed")

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func readProof(proofPath, publicPath string) (*proof.Proof, proof.PublicSignals, error) {
	raw, err := os.ReadFile(proofPath)
	if err != nil {
		return nil, nil, err
	}
	var env proof.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", proofPath, err)
	}
	if env.Proof == nil {
		var p proof.Proof
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, nil, fmt.Errorf("%s: %w", proofPath, err)
		}
		env.Proof = &p
	}

	if publicPath != "" {
		raw, err := os.ReadFile(publicPath)
		if err != nil {
			return nil, nil, err
		}
		env.PublicSignals = nil
		if err := json.Unmarshal(raw, &env.PublicSignals); err != nil {
			return nil, nil, fmt.Errorf("%s: %w", publicPath, err)
		}
	}
	if env.PublicSignals == nil {
		return nil, nil, errors.New("no public signals: pass --public or a {proof, publicSignals} file")
	}
	return env.Proof, env.PublicSignals, nil
}

func run(args []string, stdout, stderr io.Writer) int {
	_ = logging.New("warn", stderr)
	var proofPath, publicPath, vkPath string

	cmd := &cobra.Command{
		Use:           "verifier",
		Short:         "Verify a Groth16 proof",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, signals, err := readProof(proofPath, publicPath)
			if err != nil {
				return err
			}
			if err := signals.Validate(); err != nil {
				return err
			}
			vk, err := artifact.LoadVerifyingKeyFile(vkPath)
			if err != nil {
				return err
			}
			if !verifier.VerifyWith(vk, p, signals) {
				return errNotVerified
			}
			fmt.Fprintln(stdout, "proof verified ✅")
			return nil
		},
	}

	cmd.Flags().StringVar(&proofPath, "proof", "", "proof.json")
	cmd.Flags().StringVar(&publicPath, "public", "", "public.json (optional with a {proof, publicSignals} file)")
	cmd.Flags().StringVar(&vkPath, "vk", "", "<id>.vkey or <id>.zkey with an embedded key")
	_ = cmd.MarkFlagRequired("proof")
	_ = cmd.MarkFlagRequired("vk")
	cmd.SetArgs(args)
	cmd.SetOut(stderr)
	cmd.SetErr(stderr)

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(stderr, "%v ❌\n", err)
		return 1
	}
	return 0
}
