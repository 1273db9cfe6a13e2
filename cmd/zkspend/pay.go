package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yourorg/zkspend/pkg/policy"
	"github.com/yourorg/zkspend/pkg/settlement"
)

func (c *cli) payCmd() *cobra.Command {
	var (
		w        walletFlags
		amount   string
		resource string
		key      string
		meta     map[string]string
	)
	cmd := &cobra.Command{
		Use:   "pay",
		Short: "Reserve, prove and settle one payment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			lamports, err := policy.ParseSOL(amount)
			if err != nil {
				return fmt.Errorf("--amount: %w", err)
			}
			a, err := c.app()
			if err != nil {
				return err
			}
			defer a.Close()
			coord, err := a.Coordinator()
			if err != nil {
				return err
			}

			r, err := coord.Pay(cmd.Context(), settlement.PaymentRequest{
				Wallet:         w.wallet,
				ServiceKey:     w.service,
				Amount:         lamports,
				Resource:       resource,
				Metadata:       meta,
				IdempotencyKey: key,
			})
			if err != nil {
				return err
			}
			c.log.Info().
				Str("tx", r.TxHash).
				Str("explorer", settlement.ExplorerURL(c.cfg.Network, r.TxHash)).
				Msg("payment settled")
			return c.printJSON(r)
		},
	}
	w.register(cmd)
	cmd.Flags().StringVar(&amount, "amount", "", "amount in SOL")
	cmd.Flags().StringVar(&resource, "resource", "", "resource being paid for")
	cmd.Flags().StringVar(&key, "idempotency-key", "", "reuse to retry a payment safely (default: new uuid)")
	cmd.Flags().StringToStringVar(&meta, "meta", nil, "metadata key=value pairs")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

type batchLine struct {
	Request settlement.PaymentRequest `json:"request"`
	Receipt *settlement.Receipt       `json:"receipt,omitempty"`
	Error   string                    `json:"error,omitempty"`
}

func (c *cli) batchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch <requests.json>",
		Short: "Run a JSON array of payment requests concurrently",
		Long: "Each element is {wallet, serviceKey, amount, resource?, metadata?, idempotencyKey?}\n" +
			"with amount in lamports as a decimal string. Requests succeed or fail independently.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var reqs []settlement.PaymentRequest
			if err := json.Unmarshal(raw, &reqs); err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}

			a, err := c.app()
			if err != nil {
				return err
			}
			defer a.Close()
			coord, err := a.Coordinator()
			if err != nil {
				return err
			}

			results := coord.PayBatch(cmd.Context(), reqs)
			out := make([]batchLine, len(results))
			var failed int
			for i, r := range results {
				out[i] = batchLine{Request: r.Request, Receipt: r.Receipt}
				if r.Err != nil {
					out[i].Error = r.Err.Error()
					failed++
				}
			}
			c.log.Info().Int("settled", len(results)-failed).Int("failed", failed).Msg("batch done")
			return c.printJSON(out)
		},
	}
	return cmd
}

func (c *cli) recoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Resolve reservations left pending by an earlier process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.app()
			if err != nil {
				return err
			}
			defer a.Close()
			coord, err := a.Coordinator()
			if err != nil {
				return err
			}
			sum, err := coord.Recover(cmd.Context())
			if err != nil {
				return err
			}
			return c.printJSON(sum)
		},
	}
}
