package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"vidforge/cmd/cli/runcmd"
)

var RootCmd = &cobra.Command{
	Use:   "vfctl",
	Short: "Vidforge - remote job orchestration for video processing",
	Long: `Vidforge hands heavy video processing (transcoding, live stream packaging,
storyboards, studio edits) to remote runner machines and tracks every job's
lifecycle on the server.

At a minimum, you need to start the API server. The janitor process handles
stall recovery and retention cleanup.`,
}

func init() {
	RootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	RootCmd.AddCommand(runcmd.Command)
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "%v", err)
		os.Exit(1)
	}
}
