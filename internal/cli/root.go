// Package cli implements the chainpayd command line.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/vitwit/chainpay/config"
)

var (
	version = "dev"
	commit  = "none"
)

type globalFlags struct {
	envFile      string
	networksFile string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	cmd := &cobra.Command{
		Use:           "chainpayd",
		Short:         "Crypto invoices and on-chain payment verification",
		Long:          "chainpayd issues USD-priced invoices payable in crypto on EVM and Solana networks and verifies the transactions sent to pay them.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadEnv(flags.envFile)
		},
	}
	cmd.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	cmd.PersistentFlags().StringVar(&flags.networksFile, "networks", "", "networks YAML file (overrides CHAINPAY_NETWORKS_FILE)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd(flags))
	cmd.AddCommand(newNetworksCmd(flags))
	cmd.AddCommand(newVerifyCmd(flags))
	cmd.AddCommand(newCheckCmd(flags))
	return cmd
}

// NewRootCmdForTest returns the root command for testing.
func NewRootCmdForTest() *cobra.Command {
	return newRootCmd()
}

func Execute() error {
	return newRootCmd().Execute()
}

// loadConfig reads the environment and applies command line overrides.
func (f *globalFlags) loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if f.networksFile != "" {
		cfg.NetworksFile = f.networksFile
	}
	return cfg, nil
}
