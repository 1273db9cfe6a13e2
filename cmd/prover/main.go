// Command prover generates one proof from compiled artifacts:
//
//	prover <zkeyPath> <r1csPath> <inputJsonPath>
//
// On success stdout holds exactly one JSON document {proof, publicSignals}.
// On failure {error} goes to stderr and the exit status is 1.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/yourorg/zkspend/internal/logging"
	"github.com/yourorg/zkspend/pkg/artifact"
	"github.com/yourorg/zkspend/pkg/proof"
	"github.com/yourorg/zkspend/pkg/prover"
	"github.com/yourorg/zkspend/pkg/witness"
)

// contextKey is a custom type for context keys to avoid conflicts
type contextKey string

const startTimeKey contextKey = "start"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	_ = godotenv.Load()
	level := os.Getenv("ZKSPEND_LOG_LEVEL")
	if level == "" {
		level = "warn"
	}
	log := logging.New(level, stderr)

	cmd := &cobra.Command{
		Use:           "prover <zkeyPath> <r1csPath> <inputJsonPath>",
		Short:         "Generate a Groth16 proof from a zkey, an r1cs and a JSON input",
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[2])
			if err != nil {
				return err
			}
			var in witness.Input
			if err := json.Unmarshal(raw, &in); err != nil {
				return fmt.Errorf("input %s: %w", args[2], err)
			}

			a, err := artifact.LoadFiles(args[0], args[1])
			if err != nil {
				return err
			}
			p, signals, err := prover.Prove(a, in)
			if err != nil {
				return err
			}

			out, err := json.Marshal(proof.Envelope{Proof: p, PublicSignals: signals})
			if err != nil {
				return err
			}
			log.Debug().
				Str("circuit", a.CircuitID).
				Dur("took", time.Since(cmd.Context().Value(startTimeKey).(time.Time))).
				Msg("proof generated")
			_, err = fmt.Fprintln(stdout, string(out))
			return err
		},
	}
	cmd.SetArgs(args)
	cmd.SetOut(stderr)
	cmd.SetErr(stderr)

	ctx := context.WithValue(context.Background(), startTimeKey, time.Now())
	if err := cmd.ExecuteContext(ctx); err != nil {
		msg, _ := json.Marshal(proof.ErrorResponse{Error: err.Error()})
		fmt.Fprintln(stderr, string(msg))
		return 1
	}
	return 0
}
