package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/baajur/prisma-engines/cli/internal/update"
	"github.com/baajur/prisma-engines/cli/internal/version"
)

// NewVersionCommand creates the version command.
func NewVersionCommand() *cobra.Command {
	var full bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Get()
			if full {
				fmt.Println(info.FullString())
			} else {
				fmt.Println(info.String())
			}
			return update.CheckForUpdates(info.Version)
		},
	}

	cmd.Flags().BoolVar(&full, "full", false, "Print build metadata as well")

	return cmd
}
