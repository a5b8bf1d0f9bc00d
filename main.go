// Command gafteddy animates an animatronic teddy bear: speech on the capture
// device drives the mouth, eyes blink autonomously and close into sleep when
// the room goes quiet. A small HTTP server makes the bear talk.
package main

import (
	"fmt"
	"os"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

func main() {
	if len(os.Args) > 1 && RunCLI(os.Args[1:]) {
		return
	}
	fmt.Fprintln(os.Stderr, "Usage: gafteddy [start|status|calibrate|say|version] [flags]")
	os.Exit(2)
}
