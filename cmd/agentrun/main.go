// Command agentrun is a small demonstration CLI that wires the full
// agent stack together: an OpenAI-compatible chat client, the built-in
// tool set, checkpointing, and the inline or distributed execution
// backend.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
