package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/deskline/support-chat/internal/loadtest/client"
	"github.com/deskline/support-chat/internal/loadtest/stats"
)

// runSaturate opens the requested number of connections, holds them, and
// reports how many the server dropped.
func runSaturate(args []string) {
	fs := pflag.NewFlagSet("saturate", pflag.ExitOnError)
	url := fs.String("url", "ws://localhost:8080/ws", "WebSocket server URL")
	connections := fs.Int("connections", 1000, "Number of connections to open")
	rampUp := fs.Duration("ramp", 10*time.Second, "Ramp-up duration")
	hold := fs.Duration("hold", 30*time.Second, "Hold duration after all connections are open")
	concurrency := fs.Int("concurrency", 50, "Maximum simultaneous connection attempts during ramp-up")
	metricsURL := fs.String("metrics-url", "http://localhost:8080/metrics", "Prometheus metrics endpoint URL")
	_ = fs.Parse(args)

	fmt.Printf("Saturate test: %d connections to %s (ramp=%s, hold=%s, concurrency=%d)\n",
		*connections, *url, *rampUp, *hold, *concurrency)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()
	scraper := stats.NewScraper(*metricsURL, 2*time.Second)
	collector.SetScraper(scraper)
	scraper.Start(ctx)

	fmt.Println("\n--- Ramp-up phase ---")
	clients, interrupted := rampConnect(ctx, *url, *connections, *rampUp, *concurrency, collector)

	var dropped int
	if !interrupted {
		fmt.Println("\n--- Hold phase ---")
		fmt.Printf("Holding %d connections for %s...\n", len(clients), *hold)
		dropped = holdConnections(ctx, clients, *hold)
	}

	fmt.Println("\n--- Cleanup ---")
	fmt.Printf("Closing %d connections...\n", len(clients))
	closeAll(clients)

	if dropped > 0 {
		fmt.Printf("\nConnections dropped during hold: %d\n", dropped)
	}
	scraper.Stop()
	collector.Report()
}

func holdConnections(ctx context.Context, clients []*client.Client, hold time.Duration) int {
	holdTimer := time.NewTimer(hold)
	defer holdTimer.Stop()
	statusTicker := time.NewTicker(5 * time.Second)
	defer statusTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nInterrupted during hold phase.")
			return countDropped(clients)
		case <-holdTimer.C:
			fmt.Println("\nHold period complete.")
			return countDropped(clients)
		case <-statusTicker.C:
			d := countDropped(clients)
			fmt.Printf("  [hold] alive: %d/%d  dropped: %d\n", len(clients)-d, len(clients), d)
		}
	}
}

func countDropped(clients []*client.Client) int {
	n := 0
	for _, c := range clients {
		select {
		case <-c.Done():
			n++
		default:
		}
	}
	return n
}
