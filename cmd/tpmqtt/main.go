// Command tpmqtt is a TouchPortal plugin that forwards MQTT messages into
// TouchPortal states and events.
//
// TouchPortal launches it as "tpmqtt start" from the plugin folder. The
// "entry" subcommand generates the entry.tp file that declares the plugin's
// settings, states and events.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Version information, set at build time via ldflags:
// go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// getConfigPath returns TPMQTT_CONFIG when set, otherwise the default path.
func getConfigPath() string {
	if path := os.Getenv("TPMQTT_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
