// Package main provides the entrypoint for reliabilityd, the feature flag and
// graceful degradation control plane.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
