// Command docrag is the entry point for the document question-answering
// tool. It provides a CLI interface (via Cobra) and an optional HTTP server
// for interactive use.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/docrag-go/cmd/docrag/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
