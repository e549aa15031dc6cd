// codectx indexes codebases into a vector store and searches them with
// natural-language queries.
package main

import (
	"fmt"
	"os"

	"github.com/probeshift/codectx/cmd/codectx/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
