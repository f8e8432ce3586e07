// Package main provides the entry point for the ricesearch CLI.
package main

import (
	"os"

	"github.com/moabualruz/rice-search/cmd/ricesearch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
