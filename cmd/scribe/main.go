// Command scribe post-processes diarized transcripts: it turns raw
// line-oriented model output into speaker-attributed segments that stay
// consistent across the units of a recording.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "scribe: %v\n", err)
		}
		return 1
	}
	return 0
}
