package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"vdotapes/internal/startup"
)

// NewVersionCmd creates the version command
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  `Display the version, commit and build details of this binary.`,
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			info := startup.GetBuildInfo()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "vdotapes %s\n", info.Version)
			fmt.Fprintf(out, "Commit: %s\n", info.Commit)
			fmt.Fprintf(out, "Built:  %s\n", info.BuildTime)
			fmt.Fprintf(out, "Go:     %s %s/%s\n", info.GoVersion, info.OS, info.Arch)
		},
	}
}
