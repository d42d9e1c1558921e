// Package main provides the jcmrest server.
//
// Usage:
//
//	jcmrest serve [flags]
//	jcmrest version
//
// Configuration:
//
//	Defaults are overridden by JCMREST_* environment variables, then by
//	the file given with --config (JSON or YAML), then by flags.
package main

import (
	"fmt"
	"os"

	"github.com/jcmrest/jcmrest/cmd/jcmrest/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(commands.ExitCode(err))
	}
}
