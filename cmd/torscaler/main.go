// Command torscaler ingests a Tor consensus and its server descriptors,
// optionally scales the resulting network model, and writes the result
// back to disk in the same wire format.
package main

import (
	"fmt"
	"log/slog"
	"os"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: torscaler <scale|history> [flags]")
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "scale":
		err = runScale(os.Args[2:], logger)
	case "history":
		err = runHistory(os.Args[2:], logger)
	default:
		fmt.Fprintf(os.Stderr, "torscaler: unknown command %q\n", os.Args[1])
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "torscaler: %v\n", err)
		os.Exit(1)
	}
}
