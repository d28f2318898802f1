// Command fieldlogic validates, compiles, evaluates and serves declarative
// form configurations.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/fieldlogic/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
