// ABOUTME: Entry point for mulchat-gateway realtime chat server
// ABOUTME: Routes chat messages between WebSocket clients and answers the AI bot

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// version is overridden with -ldflags "-X main.version=..." in release builds.
var version = "dev"

const banner = `
                 _      _           _
 _ __ ___  _   _| | ___| |__   __ _| |_
| '_ ' _ \| | | | |/ __| '_ \ / _' | __|
| | | | | | |_| | | (__| | | | (_| | |_
|_| |_| |_|\__,_|_|\___|_| |_|\__,_|\__|
`

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
