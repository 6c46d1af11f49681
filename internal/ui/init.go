// Package ui provides terminal output for the deck-session CLI.
package ui

import (
	"io"

	"github.com/fatih/color"
)

var (
	// Stdout and Stderr are where messages go. Tests swap them out.
	Stdout io.Writer = color.Output
	Stderr io.Writer = color.Error
)

// Init disables colors when requested.
func Init(noColor bool) {
	if noColor {
		color.NoColor = true
	}
}
