// Command zkspend runs the proof service and manages spending
// authorizations and payments from the command line.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/yourorg/zkspend/internal/app"
	"github.com/yourorg/zkspend/internal/config"
	"github.com/yourorg/zkspend/internal/logging"
)

type cli struct {
	stdout, stderr io.Writer

	envFile  string
	cfg      config.Config
	log      zerolog.Logger
	override struct {
		circuits, db, settler, prover, logLevel string
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	c := &cli{stdout: stdout, stderr: stderr}
	root := &cobra.Command{
		Use:           "zkspend",
		Short:         "Zero-knowledge spending limits for automated payments",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load(cmd)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	f := root.PersistentFlags()
	f.StringVar(&c.envFile, "env", ".env", "dotenv file loaded before the environment")
	f.StringVar(&c.override.circuits, "circuits", "", "artifact directory (ZKSPEND_CIRCUIT_DIR)")
	f.StringVar(&c.override.db, "db", "", "postgres DSN or sqlite path (ZKSPEND_DATABASE_URL)")
	f.StringVar(&c.override.settler, "settler", "", "settlement service URL (ZKSPEND_SETTLER_URL)")
	f.StringVar(&c.override.prover, "prover", "", "remote proof service URL (ZKSPEND_PROVER_URL)")
	f.StringVar(&c.override.logLevel, "log-level", "", "debug, info, warn or error (ZKSPEND_LOG_LEVEL)")

	root.AddCommand(
		c.serveCmd(),
		c.setupCmd(),
		c.authorizeCmd(),
		c.revokeCmd(),
		c.statusCmd(),
		c.payCmd(),
		c.batchCmd(),
		c.recoverCmd(),
	)
	return root
}

// load reads the configuration; flags override the environment.
func (c *cli) load(cmd *cobra.Command) error {
	cfg, err := config.Load(c.envFile)
	if err != nil {
		return err
	}
	set := func(name string, dst *string, v string) {
		if cmd.Flags().Changed(name) {
			*dst = v
		}
	}
	set("circuits", &cfg.CircuitDir, c.override.circuits)
	set("db", &cfg.DatabaseURL, c.override.db)
	set("settler", &cfg.SettlerURL, c.override.settler)
	set("prover", &cfg.ProverURL, c.override.prover)
	set("log-level", &cfg.LogLevel, c.override.logLevel)
	c.cfg = cfg
	c.log = logging.Console(cfg.LogLevel, c.stderr)
	return nil
}

func (c *cli) app() (*app.App, error) {
	return app.New(c.cfg, c.log)
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
