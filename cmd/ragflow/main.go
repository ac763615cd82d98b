// Command ragflow is the entry point for the ragflow retrieval-augmented QA
// service. It provides a CLI interface (via Cobra) for one-shot questions,
// knowledge-base ingestion, and an HTTP server for interactive use.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/ragflow-go/cmd/ragflow/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
