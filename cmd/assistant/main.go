// Package main provides the entry point for the assistant CLI.
package main

import (
	"fmt"
	"os"

	"github.com/DmytroChyzh/ciedenmanager/cmd/assistant/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
