// The main package for the eprints-archiver executable.
package main

import (
	"os"

	"github.com/JakeFAU/eprints-archiver/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
