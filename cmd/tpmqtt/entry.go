package main

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/nerrad567/touchportal-mqtt/internal/infrastructure/config"
	"github.com/nerrad567/touchportal-mqtt/internal/plugin"
	"github.com/nerrad567/touchportal-mqtt/internal/touchportal"
)

const defaultStartCmd = "%TP_PLUGIN_FOLDER%TouchPortalMQTTPlugin/tpmqtt start"

func newEntryCmd(configPath *string, fs afero.Fs) *cobra.Command {
	var (
		output   string
		slots    int
		startCmd string
		entryVer int
	)

	cmd := &cobra.Command{
		Use:   "entry",
		Short: "Write the TouchPortal entry.tp file",
		Long: `entry writes entry.tp, the static description TouchPortal reads when the
plugin is imported. The number of topic slots is fixed here; the running
plugin must be configured with the same bridge.topic_slots.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadOrDefault(*configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if !cmd.Flags().Changed("slots") {
				slots = cfg.Bridge.TopicSlots
			}
			if !cmd.Flags().Changed("output") {
				output = cfg.TouchPortal.EntryPath
			}

			entry := plugin.BuildEntry(plugin.Description{
				PluginID: cfg.TouchPortal.PluginID,
				Version:  entryVer,
				Slots:    slots,
				StartCmd: startCmd,
			})
			if err := touchportal.WriteEntry(fs, output, entry); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d topic slots)\n", output, slots)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "entry.tp", "where to write entry.tp")
	cmd.Flags().IntVar(&slots, "slots", 4, "number of MQTT topic slots")
	cmd.Flags().StringVar(&startCmd, "start-cmd", defaultStartCmd, "command TouchPortal runs to start the plugin")
	cmd.Flags().IntVar(&entryVer, "entry-version", 1, "plugin version recorded in entry.tp")
	return cmd
}
