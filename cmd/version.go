package cmd

import (
	"fmt"
	goruntime "runtime"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("dbvault %s\n", cfg.Version)
		fmt.Printf("  build time: %s\n", cfg.BuildTime)
		fmt.Printf("  commit:     %s\n", cfg.GitCommit)
		fmt.Printf("  go:         %s (%s/%s)\n", goruntime.Version(), goruntime.GOOS, goruntime.GOARCH)
	},
}
