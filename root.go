package main

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the teamx command tree.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "teamx",
		Short: "TeamX collaborative level editor server",
		Long: `TeamX keeps one shared level that several players edit at once.
The server owns the level: it checks every edit against the player's
permissions and block selections before telling everyone else.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewAdminCmd())

	return cmd
}
