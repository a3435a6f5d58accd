// Foreman: an agent coordination substrate served over MCP.
//
// Foreman gives a team of AI agents shared infrastructure: lifecycle and task
// queues, a durable pub/sub event bus and a searchable knowledge graph with
// per-agent memory, all persisted in one SQLite database.
//
// Usage:
//
//	foreman serve    # Start MCP server (stdio transport)
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/server"

	foremanserver "github.com/sitegrid/foreman/internal/server"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		if err := run(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "--help", "-h", "help":
		printUsage()
		os.Exit(0)
	case "--version", "-v", "version":
		fmt.Printf("foreman v%s\n", foremanserver.Version)
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func run() error {
	s, cleanup, err := foremanserver.New()
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	defer cleanup()

	// Graceful shutdown on interrupt.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	_ = ctx // stdio server manages its own lifecycle

	return server.ServeStdio(s)
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Foreman v%s — Agent Coordination Substrate (MCP)

Usage:
  foreman serve    Start the MCP server (stdio transport)

Configuration:
  FOREMAN_DATA_DIR   Directory for the SQLite database (default ~/.foreman)

  Add to your AI tool's MCP config:

  {
    "mcpServers": {
      "foreman": {
        "command": "foreman",
        "args": ["serve"]
      }
    }
  }
`, foremanserver.Version)
}
