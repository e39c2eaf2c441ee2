// Command stqctl manages keys, encrypted datasets and queries of a stquery deployment.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
