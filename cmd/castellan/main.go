// Command castellan is the gate-driven orchestrator CLI.
package main

import (
	"os"

	"github.com/relaygate/castellan/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
