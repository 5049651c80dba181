package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile    string
	appVersion string // set in Execute, used by serve for telemetry
)

// Execute creates the root command tree and runs it.
func Execute(version, commit, date string) error {
	appVersion = version
	rootCmd := newRootCmd(version, commit, date)
	return rootCmd.Execute()
}

func newRootCmd(version, commit, date string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keywarden",
		Short: "Share controlled access to your API keys without sharing the keys",
		Long: `Keywarden: a self-hosted gateway that lets third-party apps use your private
API keys (LLM providers, email senders) without ever seeing them.

Apps pair with the gateway once, sign every request with their own Ed25519
key, and the gateway enforces per-app permissions, rate limits, and token
budgets before relaying to the upstream provider with your real credential.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./keywarden.yaml)")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory for the SQLite store (default: ~/.keywarden)")

	cobra.OnInitialize(initConfig)

	// Add subcommands
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newVersionCmd(version, commit, date))
	cmd.AddCommand(newAdminCmd())
	cmd.AddCommand(newResourceCmd())
	cmd.AddCommand(newAppCmd())
	cmd.AddCommand(newPairCmd())
	cmd.AddCommand(newMCPCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newStopCmd())

	return cmd
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("keywarden")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.keywarden")
	}

	viper.SetEnvPrefix("KEYWARDEN")
	viper.AutomaticEnv()
	viper.ReadInConfig() // Ignore error - config file is optional
}
