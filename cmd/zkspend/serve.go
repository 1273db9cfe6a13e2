package main

import (
	"github.com/spf13/cobra"
)

func (c *cli) serveCmd() *cobra.Command {
	var preload bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the proof service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.app()
			if err != nil {
				return err
			}
			defer a.Close()

			ids, err := a.Artifacts.Available()
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				c.log.Warn().Str("dir", c.cfg.CircuitDir).Msg("no circuit artifacts found, run zkspend setup")
			}
			if preload {
				for _, id := range ids {
					if _, err := a.Artifacts.Load(cmd.Context(), id); err != nil {
						return err
					}
				}
			}
			c.log.Info().Strs("circuits", ids).Str("network", c.cfg.Network).Msg("starting proof service")
			return a.Server().Run(cmd.Context(), c.cfg.Addr())
		},
	}
	cmd.Flags().BoolVar(&preload, "preload", false, "load every circuit before accepting requests")
	return cmd
}
