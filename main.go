// tcptunnel - a TCP relay that compresses one direction of every
// connection and decompresses the other.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"tcptunnel/cmd"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cmd.Execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "tcptunnel: %v\n", err)
		os.Exit(1)
	}
}
