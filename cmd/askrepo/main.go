// Package main provides the entry point for the askrepo CLI.
package main

import (
	"os"

	"github.com/askrepo/askrepo/cmd/askrepo/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
