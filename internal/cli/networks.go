package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vitwit/chainpay/registry"
)

func newNetworksCmd(flags *globalFlags) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "networks",
		Short: "Validate the networks file and list its networks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			reg, err := registry.LoadFile(cfg.NetworksFile)
			if err != nil {
				return err
			}

			if asJSON {
				return writeJSON(cmd, reg.List())
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tFAMILY\tCHAIN\tCONFIRMATIONS\tASSETS\tWALLET")
			for _, n := range reg.List() {
				symbols := ""
				for i, a := range n.Assets {
					if i > 0 {
						symbols += ","
					}
					symbols += a.Symbol
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n", n.ID, n.Family, n.ChainID, n.ConfirmationThreshold, symbols, n.MerchantWallet)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
