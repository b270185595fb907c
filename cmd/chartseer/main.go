// Command chartseer predicts price direction from pattern similarity and
// multi-signal Bayesian evidence.
package main

import (
	"os"

	"chartseer/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
