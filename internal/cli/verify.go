package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vitwit/chainpay/types"
)

func newVerifyCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <invoice-id> <tx-hash>",
		Short: "Verify a payment transaction against a stored invoice",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			a, err := bootstrap(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.cp.VerifyPayment(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if err := writeJSON(cmd, res); err != nil {
				return err
			}
			if !res.IsValid {
				return types.NewError(res.ErrorCode, res.InvalidReason)
			}
			return nil
		},
	}
}

func newCheckCmd(flags *globalFlags) *cobra.Command {
	var depth int

	cmd := &cobra.Command{
		Use:   "check <invoice-id>",
		Short: "Scan recent blocks for transfers that could pay an invoice",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			a, err := bootstrap(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.cp.CheckPayment(cmd.Context(), args[0], depth, nil)
			if err != nil {
				return err
			}
			if !res.Complete {
				fmt.Fprintf(cmd.ErrOrStderr(), "scan incomplete; resume from block %d (%d remaining)\n",
					res.Checkpoint.Next, res.Checkpoint.Remaining)
			}
			return writeJSON(cmd, res)
		},
	}
	cmd.Flags().IntVar(&depth, "depth", 0, "number of recent blocks to scan (default CHAINPAY_SCAN_DEPTH)")
	return cmd
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
