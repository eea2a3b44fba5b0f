package main

import (
	"os"

	"github.com/spf13/cobra"

	logx "remindd/pkg/logx"
)

type rootFlags struct {
	configPath string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logx.NewConsole("info").Error("fatal", logx.Err(err))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rf := &rootFlags{}
	root := &cobra.Command{
		Use:   "remindd",
		Short: "Event reminder daemon",
		Long: `remindd sends an SMS (or WhatsApp/relay) reminder 15 minutes before each
scheduled event and keeps its reminder set in a durable store.

Examples:
  remindd serve --config config.yaml
  remindd schedule --event-id evt-1 --title "Showing" --date 2024-06-01 --time 15:00 --phone +15550001234
  remindd list
  remindd tick`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&rf.configPath, "config", "c", "./config.yaml", "path to config (json or yaml)")

	root.AddCommand(
		newServeCmd(rf),
		newScheduleCmd(rf),
		newListCmd(rf),
		newTickCmd(rf),
	)
	return root
}
