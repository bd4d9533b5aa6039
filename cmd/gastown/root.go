package main

import (
	"fmt"

	"gastown/internal/version"

	"github.com/spf13/cobra"
)

// newRootCmd creates the root gastown command with all subcommands attached.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "gastown",
		Short:         "Gastown multi-agent work orchestration server",
		Long:          "gastown runs the coordination core for agent swarms:\nper-rig work queues, mail, escalations, reviews, and the town event feed.",
		Version:       fmt.Sprintf("gastown %s", version.String()),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("{{.Version}}\n")

	cmd.AddCommand(
		newInitCmd(),
		newServeCmd(),
		newTokenCmd(),
		newStatusCmd(),
		newLogsCmd(),
	)

	return cmd
}
