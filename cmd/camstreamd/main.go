// Package main is the entry point for the camstreamd daemon.
package main

import (
	"os"

	"github.com/jmylchreest/camstreamd/cmd/camstreamd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
