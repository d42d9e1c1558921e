// Package commands implements the jcmrest command line.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/jcmrest/jcmrest/core"
)

// Version information, set at build time with -ldflags "-X".
var (
	Version   = "development"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "jcmrest",
	Short: "REST platform for BDI agents",
	Long: `jcmrest hosts BDI agents and exposes them over HTTP.

Agents are created, commanded, messaged and inspected through REST
routes. Agent logs and the service directory live in memory or in Redis.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// ExitCode maps an Execute error to the process exit status: 2 for bad
// configuration, 1 for anything else.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case core.IsConfigurationError(err):
		return 2
	default:
		return 1
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}
