// Command cce runs the Conflict & Context Engine: one-shot update cycles,
// the long-lived HTTP/MCP server with its tick loop, and schema migrations.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	root, c := newRootCmd()
	err := root.ExecuteContext(ctx)
	c.close()

	switch {
	case err == nil:
		return 0
	case errors.Is(err, errTickFailed):
		// The result on stdout already says what failed.
		return 1
	default:
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
}
