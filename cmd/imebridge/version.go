package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"imebridge/internal/config"
	"imebridge/internal/xrdisplay"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of imebridge",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "imebridge %s\n", version)
		fmt.Fprintf(out, "  config schema:    v%d\n", config.Version)
		fmt.Fprintf(out, "  display protocol: v%d\n", xrdisplay.ProtocolVersion)
		fmt.Fprintf(out, "  go:               %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
