// Package main provides the deck-session entrypoint.
package main

import (
	"fmt"
	"os"

	"github.com/spherical/deck-session/cmd/deck-session/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
