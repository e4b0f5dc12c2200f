// Command bb84 runs BB84 key exchanges: a two-party demonstration, an HTTP
// exchange server, and a parameter sweep benchmark.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
