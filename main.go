// The main package for the ptspider executable.
package main

import (
	"github.com/autopt/ptspider/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
