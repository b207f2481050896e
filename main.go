// The main package for the bulk submission downloader executable.
package main

import (
	"github.com/JakeFAU/submission-downloader/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
