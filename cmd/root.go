package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jsteenb2/voltdb/client"
	"github.com/jsteenb2/voltdb/cmd/call"
	"github.com/jsteenb2/voltdb/cmd/util"
)

const (
	Version = "0.3.1"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "volt",
		Short: "cluster client console",
		Long: fmt.Sprintf(`volt (v%s)

A console client for a clustered transactional database, built on the
multiplexing client library of this module.`, Version),
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			util.InitClientConfig()
			if err := viper.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			return client.InitLoggers(viper.GetString("log-level"))
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of volt",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("volt v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(call.CallCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "log-level"
	RootCmd.PersistentFlags().String(key, "info", util.WrapString("log level (debug, info, warn, error)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
