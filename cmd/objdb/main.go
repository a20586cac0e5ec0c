// Package main provides objdb, a CLI for schema-driven SQLite databases
// with identity-mapped objects.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/calvinalkan/objdb/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	exitCode := cli.Run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args)

	os.Exit(exitCode)
}
