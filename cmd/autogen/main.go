// Command autogen emits straight-line derivative code from HCL manifests.
package main

import (
	"os"

	"github.com/njchilds90/goautogen/internal/cli"
)

func main() {
	os.Exit(cli.Main())
}
