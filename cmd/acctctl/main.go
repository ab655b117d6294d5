package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Sternrassler/eaccounting-client/cmd/acctctl/commands"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "acctctl",
	Short: "eAccounting API CLI",
	Long: `A command-line interface for the eAccounting API.

Lists, fetches and exports customers, invoices, vouchers and the other
collections of a company, with client-side pacing and retries.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: commands.SetupLogging,
}

func init() {
	cobra.OnInitialize(initConfig)
	commands.AddGlobalFlags(rootCmd)

	rootCmd.AddCommand(commands.NewVersionCommand(version, commit, date))
	rootCmd.AddCommand(commands.NewResourcesCommand())
	rootCmd.AddCommand(commands.NewListCommand())
	rootCmd.AddCommand(commands.NewGetCommand())
	rootCmd.AddCommand(commands.NewExportCommand())
	rootCmd.AddCommand(commands.NewQuotaCommand())
	rootCmd.AddCommand(commands.NewCacheCommand())
}

func initConfig() {
	cfgFile := viper.GetString("config")

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		// Search config in ~/.acctctl/config.yml
		viper.AddConfigPath(filepath.Join(home, ".acctctl"))
		viper.SetConfigType("yml")
		viper.SetConfigName("config")
	}

	// ACCT_TOKEN, ACCT_TENANT, ACCT_REDIS ...
	viper.SetEnvPrefix("ACCT")
	viper.SetEnvKeyReplacer(commands.EnvKeyReplacer)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("verbose") {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
