// Package main is the entry point for the playcore application.
package main

import (
	"os"

	"github.com/jmylchreest/playcore/cmd/playcore/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
