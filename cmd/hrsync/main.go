// Command hrsync is the offline-first HR data cache and sync CLI.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/hrsync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		if !cli.Rendered(err) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
