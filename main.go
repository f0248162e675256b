// Package main is the entry point for the Archon daemon and CLI.
package main

import (
	"fmt"
	"os"

	"github.com/sekigaharaEI/archon/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
