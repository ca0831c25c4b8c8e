// Command ringstress runs a randomized workload of thread creation, cancellation and exit on a
// threadring runtime, then verifies that the ring and every cleanup stack came out consistent.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
