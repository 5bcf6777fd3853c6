// The main package for the syncboard executable.
package main

import (
	"fmt"
	"os"

	"github.com/JakeFAU/syncboard/cmd"
)

// main defers all execution to the Cobra CLI library.
func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "syncboard: %v\n", err)
		os.Exit(1)
	}
}
