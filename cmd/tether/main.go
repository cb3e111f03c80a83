// Command tether runs scripts against native modules declared in CUE
// manifests.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/tether/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		// Commands print their own failures; cobra's flag and argument
		// errors arrive here unprinted.
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
