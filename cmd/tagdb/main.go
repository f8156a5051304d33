package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sanonone/tagdb/internal/cli"
)

func main() {
	// Cancel in-flight operations on Ctrl+C so the store closes cleanly.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCommand().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
