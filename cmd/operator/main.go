// Command operator is the autonomous SRE operator's CLI entrypoint,
// wiring config, storage, subjects, the monitor loop, the evaluation
// harness, and the read-only HTTP surface.
package main

import (
	"os"

	"github.com/sreops/operator/internal/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:]))
}
