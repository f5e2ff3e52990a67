// Command custodian-fixtures inspects and maintains recorded flight data.
package main

import (
	"fmt"
	"os"

	"github.com/sourceops/cloud-custodian/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	cmd.SilenceErrors = true
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
