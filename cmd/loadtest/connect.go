package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/deskline/support-chat/internal/loadtest/client"
	"github.com/deskline/support-chat/internal/loadtest/stats"
)

// rampConnect opens n connections spread over ramp, with at most
// concurrency dials in flight, and returns those that received a session.
// interrupted reports whether ctx ended the ramp early.
func rampConnect(ctx context.Context, url string, n int, ramp time.Duration, concurrency int, collector *stats.Collector) (clients []*client.Client, interrupted bool) {
	var mu sync.Mutex
	clients = make([]*client.Client, 0, n)

	interval := ramp / time.Duration(n)
	if interval <= 0 {
		interval = time.Millisecond
	}

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	progressStop := make(chan struct{})
	var progressWg sync.WaitGroup
	progressWg.Add(1)
	go func() {
		defer progressWg.Done()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		lastCount := 0
		lastTime := time.Now()
		for {
			select {
			case <-ticker.C:
				now := time.Now()
				conns := collector.ConnectionCount()
				rate := float64(conns-lastCount) / now.Sub(lastTime).Seconds()
				fmt.Printf("  [ramp] connections: %d/%d  errors: %d  rate: %.1f conn/s\n",
					conns, n, collector.ErrorCount(), rate)
				lastCount, lastTime = conns, now
			case <-progressStop:
				return
			}
		}
	}()

	start := time.Now()
	ticker := time.NewTicker(interval)

launch:
	for launched := 0; launched < n; launched++ {
		select {
		case <-ctx.Done():
			fmt.Println("\nInterrupted during ramp-up.")
			interrupted = true
			break launch
		case <-ticker.C:
		}

		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()

			c, err := client.New(connCtx, url)
			if err != nil {
				collector.AddError()
				return
			}
			if err := c.WaitForSession(connCtx); err != nil {
				collector.AddError()
				c.Close()
				return
			}
			collector.AddConnect(c.GetMetrics().ConnectLatency)

			mu.Lock()
			clients = append(clients, c)
			mu.Unlock()
		}()
	}

	ticker.Stop()
	wg.Wait()
	close(progressStop)
	progressWg.Wait()

	fmt.Printf("\nRamp-up complete: %d/%d connections in %s (%d errors)\n",
		len(clients), n, time.Since(start).Round(time.Millisecond), collector.ErrorCount())
	return clients, interrupted
}

func closeAll(clients []*client.Client) {
	for _, c := range clients {
		c.Close()
	}
}
