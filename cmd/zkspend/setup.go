package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yourorg/zkspend/circuits"
	"github.com/yourorg/zkspend/pkg/artifact"
)

func (c *cli) setupCmd() *cobra.Command {
	var opts artifact.SetupOptions
	cmd := &cobra.Command{
		Use:   "setup [circuit...]",
		Short: "Compile circuits and write development keys",
		Long: "Compiles the named circuits (all of them by default) and runs a local,\n" +
			"single-party groth16 setup. The keys are not fit for production.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				args = circuits.IDs()
			}
			if err := os.MkdirAll(c.cfg.CircuitDir, 0o755); err != nil {
				return err
			}
			for _, id := range args {
				info, err := artifact.Setup(c.cfg.CircuitDir, id, opts)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.stdout, "%s: %d constraints, circuit hash %s\n", info.CircuitID, info.Constraints, info.Hash)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.ExportVerifyingKey, "export-vk", true, "write <id>.vkey")
	cmd.Flags().BoolVar(&opts.EmbedVerifyingKey, "embed-vk", true, "embed the verifying key in <id>.zkey")
	return cmd
}
