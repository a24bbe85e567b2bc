// Command grantbookd indexes recipient registries and serves them over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ripkitten-co/grantbook/internal/cmd/grantbookd"
)

func main() {
	cfg, err := grantbookd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := grantbookd.NewLogger(cfg)
	if err := grantbookd.Run(ctx, cfg, logger); err != nil {
		logger.Error("grantbookd failed", "error", err)
		os.Exit(1)
	}
}
