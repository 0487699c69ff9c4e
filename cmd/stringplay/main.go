// Command stringplay syncs troupe attendance from shared document folders.
package main

import (
	"os"

	"github.com/cloudydaiyz/stringplay-core/internal/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:], os.Stdout, os.Stderr))
}
