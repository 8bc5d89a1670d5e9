// Command lazyjit is the command-line front end of the lazy linker core.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/lazyjit/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "lazyjit:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
