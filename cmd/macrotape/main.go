// File: cmd/macrotape/main.go
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/dvbotkin/macrotape/cmd"
	"github.com/dvbotkin/macrotape/internal/observability"
)

func main() {
	// Ctrl-C stops a replay gracefully and finalizes a recording.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := cmd.Execute(ctx)
	observability.Sync()

	if err != nil && !errors.Is(err, context.Canceled) {
		os.Exit(1)
	}
}
