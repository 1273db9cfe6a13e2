package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/yourorg/zkspend/pkg/policy"
)

type walletFlags struct {
	wallet, service string
}

func (w *walletFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&w.wallet, "wallet", "", "wallet address (Solana base58 or 0x EVM)")
	cmd.Flags().StringVar(&w.service, "service", "", "service key the authorization applies to")
	_ = cmd.MarkFlagRequired("wallet")
	_ = cmd.MarkFlagRequired("service")
}

func (c *cli) authorizeCmd() *cobra.Command {
	var (
		w                walletFlags
		maxPerTx, maxDay string
		validUntil       string
		validFor         time.Duration
		sig              string
		printMessage     bool
	)
	cmd := &cobra.Command{
		Use:   "authorize",
		Short: "Record spending limits signed by the wallet owner",
		Long: "Run with --print-message to get the exact bytes the wallet has to sign,\n" +
			"then again with the same flags and --signature.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			terms := policy.Terms{Wallet: w.wallet, ServiceKey: w.service}
			var err error
			if terms.MaxPerTransaction, err = policy.ParseSOL(maxPerTx); err != nil {
				return fmt.Errorf("--max-per-tx: %w", err)
			}
			if terms.MaxDailySpend, err = policy.ParseSOL(maxDay); err != nil {
				return fmt.Errorf("--max-daily: %w", err)
			}
			switch {
			case validUntil != "":
				if terms.ValidUntil, err = time.Parse(time.RFC3339, validUntil); err != nil {
					return fmt.Errorf("--valid-until: %w", err)
				}
			case validFor > 0:
				// whole seconds, so the printed message and the signed one agree
				terms.ValidUntil = time.Now().Add(validFor).Truncate(time.Second)
			default:
				return errors.New("one of --valid-until or --valid-for is required")
			}
			terms.ValidUntil = terms.ValidUntil.UTC()

			if printMessage {
				if validFor > 0 && validUntil == "" {
					fmt.Fprintf(c.stderr, "sign with --valid-until %s\n", terms.ValidUntil.Format(time.RFC3339))
				}
				_, err := c.stdout.Write(terms.Message())
				return err
			}
			if sig == "" {
				return errors.New("--signature is required (see --print-message)")
			}

			a, err := c.app()
			if err != nil {
				return err
			}
			defer a.Close()
			auth, err := a.Policy.Authorize(cmd.Context(), terms, sig)
			if err != nil {
				return err
			}
			return c.printJSON(auth)
		},
	}
	w.register(cmd)
	cmd.Flags().StringVar(&maxPerTx, "max-per-tx", "", "per-transaction limit in SOL")
	cmd.Flags().StringVar(&maxDay, "max-daily", "", "daily limit in SOL")
	cmd.Flags().StringVar(&validUntil, "valid-until", "", "expiry, RFC 3339")
	cmd.Flags().DurationVar(&validFor, "valid-for", 0, "expiry relative to now")
	cmd.Flags().StringVar(&sig, "signature", "", "wallet signature over the terms message")
	cmd.Flags().BoolVar(&printMessage, "print-message", false, "print the message to sign and exit")
	_ = cmd.MarkFlagRequired("max-per-tx")
	_ = cmd.MarkFlagRequired("max-daily")
	return cmd
}

func (c *cli) revokeCmd() *cobra.Command {
	var (
		w            walletFlags
		sig          string
		printMessage bool
	)
	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke the current authorization for a wallet and service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.app()
			if err != nil {
				return err
			}
			defer a.Close()

			if printMessage {
				st, err := a.Policy.Status(cmd.Context(), w.wallet, w.service)
				if err != nil {
					return err
				}
				if st.Authorization == nil {
					return policy.ErrUnauthorized
				}
				_, err = c.stdout.Write(policy.RevokeMessage(w.wallet, w.service, st.Authorization.ID))
				return err
			}
			if sig == "" {
				return errors.New("--signature is required (see --print-message)")
			}
			auth, err := a.Policy.Revoke(cmd.Context(), w.wallet, w.service, sig)
			if err != nil {
				return err
			}
			return c.printJSON(auth)
		},
	}
	w.register(cmd)
	cmd.Flags().StringVar(&sig, "signature", "", "wallet signature over the revoke message")
	cmd.Flags().BoolVar(&printMessage, "print-message", false, "print the message to sign and exit")
	return cmd
}

type statusView struct {
	*policy.Status
	CommittedSOL string `json:"committedSol"`
	ReservedSOL  string `json:"reservedSol"`
	RemainingSOL string `json:"remainingSol"`
}

func (c *cli) statusCmd() *cobra.Command {
	var (
		w    walletFlags
		list bool
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show authorization state and today's spending",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.app()
			if err != nil {
				return err
			}
			defer a.Close()

			if list {
				auths, err := a.Policy.Authorizations(cmd.Context(), w.wallet)
				if err != nil {
					return err
				}
				return c.printJSON(auths)
			}
			st, err := a.Policy.Status(cmd.Context(), w.wallet, w.service)
			if err != nil {
				return err
			}
			return c.printJSON(statusView{
				Status:       st,
				CommittedSOL: policy.FormatSOL(st.Committed),
				ReservedSOL:  policy.FormatSOL(st.Reserved),
				RemainingSOL: policy.FormatSOL(st.Remaining),
			})
		},
	}
	w.register(cmd)
	cmd.Flags().BoolVar(&list, "all", false, "list every authorization the wallet granted")
	return cmd
}
