// The main package for the pixelpage executable.
package main

import (
	"github.com/JakeFAU/pixelpage/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
