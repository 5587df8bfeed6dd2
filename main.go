// The importer executable.
package main

import (
	"github.com/JakeFAU/catalog-importer/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
