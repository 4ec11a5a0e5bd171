package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/whisper/polyglot/loadtest/client"
	"github.com/whisper/polyglot/loadtest/stats"
)

// runSaturate opens many sockets at a steady rate and holds them idle to find
// the server's connection ceiling. With -join every pair of sockets also
// joins a shared room, which adds hub membership to the load.
func runSaturate(args []string) {
	fs := flag.NewFlagSet("saturate", flag.ExitOnError)
	url := fs.String("url", "ws://localhost:8080/ws", "WebSocket server URL")
	connections := fs.Int("connections", 1000, "Number of connections to open")
	rampUp := fs.Duration("ramp", 10*time.Second, "Ramp-up duration")
	hold := fs.Duration("hold", 30*time.Second, "Hold duration after all connections are open")
	concurrency := fs.Int("concurrency", 50, "Maximum simultaneous connection attempts during ramp-up")
	join := fs.Bool("join", false, "Join every pair of connections to a shared conversation room")
	metricsURL := fs.String("metrics-url", "http://localhost:8080/metrics", "Prometheus metrics endpoint URL (empty disables scraping)")
	fs.Parse(args)

	fmt.Printf("Saturate test: %d connections to %s (ramp=%s, hold=%s, concurrency=%d, join=%t)\n",
		*connections, *url, *rampUp, *hold, *concurrency, *join)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()
	if *metricsURL != "" {
		scraper := stats.NewScraper(*metricsURL, 5*time.Second)
		collector.SetScraper(scraper)
		scraper.Start(ctx)
		defer scraper.Stop()
	}

	var mu sync.Mutex
	clients := make([]*client.Client, 0, *connections)
	run := time.Now().UnixNano()

	// -----------------------------------------------------------------------
	// Ramp-up
	// -----------------------------------------------------------------------
	fmt.Println("\n--- Ramp-up phase ---")

	interval := *rampUp / time.Duration(*connections)
	if interval <= 0 {
		interval = time.Millisecond
	}
	progressDone := reportProgress(collector, *connections, time.Second)

	sem := make(chan struct{}, *concurrency)
	var wg sync.WaitGroup
	ticker := time.NewTicker(interval)
	rampStart := time.Now()

ramp:
	for i := 0; i < *connections; i++ {
		select {
		case <-ctx.Done():
			fmt.Println("\nInterrupted during ramp-up.")
			break ramp
		case <-ticker.C:
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()

			connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()

			c, err := client.New(connCtx, *url)
			if err != nil {
				collector.AddError()
				return
			}
			if err := c.WaitForSession(connCtx); err != nil {
				collector.AddError()
				c.Close()
				return
			}
			if *join {
				room := fmt.Sprintf("saturate-%d-%d", run, i/2)
				if err := joinAndWait(connCtx, c, room, fmt.Sprintf("sat-%d-%d", run, i)); err != nil {
					collector.AddError()
					c.Close()
					return
				}
			}
			collector.AddConnect(c.GetMetrics().ConnectLatency)

			mu.Lock()
			clients = append(clients, c)
			mu.Unlock()
		}(i)
	}
	ticker.Stop()
	wg.Wait()
	close(progressDone)

	fmt.Printf("\nRamp-up complete: %d/%d connections in %s (%d errors)\n",
		collector.ConnectionCount(), *connections,
		time.Since(rampStart).Round(time.Millisecond), collector.ErrorCount())

	// -----------------------------------------------------------------------
	// Hold
	// -----------------------------------------------------------------------
	var dropped int
	if ctx.Err() == nil {
		fmt.Println("\n--- Hold phase ---")
		dropped = holdOpen(ctx, &mu, clients, *hold)
	}

	// -----------------------------------------------------------------------
	// Cleanup
	// -----------------------------------------------------------------------
	fmt.Println("\n--- Cleanup ---")
	mu.Lock()
	fmt.Printf("Closing %d connections...\n", len(clients))
	for _, c := range clients {
		c.Close()
	}
	mu.Unlock()

	if dropped > 0 {
		fmt.Printf("\nConnections dropped during hold: %d\n", dropped)
	}
	collector.Report()
}

// joinAndWait joins room and waits for joined_conversation.
func joinAndWait(ctx context.Context, c *client.Client, room, userID string) error {
	joined := make(chan struct{}, 1)
	c.On(client.TypeJoinedConversation, func(json.RawMessage) {
		select {
		case joined <- struct{}{}:
		default:
		}
	})
	if err := c.Join(room, userID); err != nil {
		return err
	}
	select {
	case <-joined:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// reportProgress prints connection progress every tick until the returned
// channel is closed.
func reportProgress(collector *stats.Collector, target int, every time.Duration) chan struct{} {
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(every)
		defer t.Stop()
		last, lastAt := 0, time.Now()
		for {
			select {
			case <-done:
				return
			case now := <-t.C:
				n := collector.ConnectionCount()
				rate := float64(n-last) / now.Sub(lastAt).Seconds()
				fmt.Printf("  [ramp] connections: %d/%d  errors: %d  rate: %.1f conn/s\n",
					n, target, collector.ErrorCount(), rate)
				last, lastAt = n, now
			}
		}
	}()
	return done
}

// holdOpen keeps the connections open for d, printing how many are still
// alive, and returns the number that dropped.
func holdOpen(ctx context.Context, mu *sync.Mutex, clients []*client.Client, d time.Duration) int {
	mu.Lock()
	initial := len(clients)
	mu.Unlock()
	fmt.Printf("Holding %d connections for %s...\n", initial, d)

	alive := func() int {
		mu.Lock()
		defer mu.Unlock()
		n := 0
		for _, c := range clients {
			if c.GetMetrics().Errors == 0 {
				n++
			}
		}
		return n
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	status := time.NewTicker(5 * time.Second)
	defer status.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nInterrupted during hold phase.")
			return initial - alive()
		case <-timer.C:
			fmt.Println("\nHold period complete.")
			return initial - alive()
		case <-status.C:
			n := alive()
			fmt.Printf("  [hold] alive: %d/%d  dropped: %d\n", n, initial, initial-n)
		}
	}
}
