package main

import (
	"fmt"
	"os"

	"github.com/timzifer/pulsed/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "pulsed: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
