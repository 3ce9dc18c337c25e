package main

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "tpmqtt",
		Short: "TouchPortal MQTT plugin",
		Long: `tpmqtt subscribes to MQTT topics and exposes each message to TouchPortal
as a per-topic payload state plus a "last broadcasted topic" event.

Broker connection and topics are configured in TouchPortal's plugin settings.
A YAML file (TPMQTT_CONFIG, default configs/config.yaml) holds the defaults
and the optional history, metrics and status API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", getConfigPath(), "path to the YAML configuration file")

	root.AddCommand(
		newStartCmd(&configPath),
		newEntryCmd(&configPath, afero.NewOsFs()),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tpmqtt %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
