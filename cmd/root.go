// Package cmd wires the treetrack command line.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/philipwilson/trees/cmd/capture"
	"github.com/philipwilson/trees/cmd/config"
	"github.com/philipwilson/trees/cmd/duplicates"
	"github.com/philipwilson/trees/cmd/export"
	"github.com/philipwilson/trees/cmd/group"
	"github.com/philipwilson/trees/cmd/importer"
	"github.com/philipwilson/trees/cmd/queue"
	"github.com/philipwilson/trees/cmd/record"
	"github.com/philipwilson/trees/cmd/serve"
	"github.com/philipwilson/trees/cmd/version"
	"github.com/philipwilson/trees/internal/conf"
)

// RootCommand creates the root command. settings is filled from the
// config file, environment and flags before any subcommand runs.
func RootCommand(settings *conf.Settings) *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "treetrack",
		Short:         "Record, transfer and reconcile tree locations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file (default: search ., ~/.config/treetrack, /etc/treetrack)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug output")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		panic(fmt.Sprintf("error binding flags: %v", err))
	}

	versionCmd := version.Command()
	configCmd := config.Command(settings)

	rootCmd.AddCommand(
		serve.Command(settings),
		capture.Command(settings),
		queue.Command(settings),
		importer.Command(settings),
		export.Command(settings),
		duplicates.Command(settings),
		group.Command(settings),
		record.Command(settings),
		configCmd,
		versionCmd,
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// version and config init work without a readable config
		if cmd == versionCmd || cmd.Parent() == configCmd {
			return nil
		}
		loaded, err := conf.LoadFrom(configFile)
		if err != nil {
			return err
		}
		*settings = *loaded
		return nil
	}

	return rootCmd
}
