package main

import (
	"fmt"
	"os"

	"github.com/backtesting-org/sitewatch/internal/cli"
)

// sitesim is shorthand for "sitewatch simulate"
func main() {
	root := cli.NewRootCmd()
	root.SetArgs(append([]string{"simulate"}, os.Args[1:]...))

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
