// The main package for the mcp-crawler executable.
package main

import (
	"github.com/JakeFAU/mcp-directory-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
