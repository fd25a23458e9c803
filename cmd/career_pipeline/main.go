// Package main is the career_pipeline command: the HTTP API server plus local
// commands for running, resuming and inspecting pipeline runs.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand(newCommandContext()).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
