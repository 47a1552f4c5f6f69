// ilgraph applies control flow graph reductions to method body listings.
package main

import (
	"fmt"
	"os"

	"github.com/eaburns/ilgraph/internal/cmd"
	"github.com/tebeka/atexit"
)

var Version = "dev"

func main() {
	cmd.Version = Version
	atexit.Register(cmd.Cleanup)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		atexit.Exit(1)
	}
	atexit.Exit(0)
}
