// Package main is the entry point for the weeklet CLI.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"weeklet/internal/cli"
	"weeklet/internal/commands"
)

func main() {
	// Cancel on interrupt so pending writes are flushed before exit
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	dispatcher := cli.NewDispatcher(commands.DefaultRegistry, cli.DefaultAppFactory)
	code := dispatcher.Run(ctx, os.Args[1:], os.Stdout, os.Stderr)

	stop()
	os.Exit(code)
}
