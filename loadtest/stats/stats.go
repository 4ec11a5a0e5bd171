// Package stats aggregates load test measurements from many clients and
// prints a summary report with percentile distributions.
package stats

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// Collector aggregates metrics from multiple load test clients. All methods
// are goroutine-safe.
type Collector struct {
	mu               sync.Mutex
	connectLatencies []time.Duration
	deliveryLatency  []time.Duration
	errors           int
	connections      int
	rateLimited      int
	translated       int
	untranslated     int
	startTime        time.Time
	scraper          *Scraper
}

// NewCollector creates a Collector with the start time set to now.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// SetScraper attaches a server metrics scraper whose summary is appended to
// Report.
func (c *Collector) SetScraper(s *Scraper) {
	c.mu.Lock()
	c.scraper = s
	c.mu.Unlock()
}

// AddConnect records a successful connection with its connect latency.
func (c *Collector) AddConnect(d time.Duration) {
	c.mu.Lock()
	c.connectLatencies = append(c.connectLatencies, d)
	c.connections++
	c.mu.Unlock()
}

// AddDelivery records the time from send_message to new_message arriving
// at the peer, and whether the text came back translated.
func (c *Collector) AddDelivery(d time.Duration, translated bool) {
	c.mu.Lock()
	c.deliveryLatency = append(c.deliveryLatency, d)
	if translated {
		c.translated++
	} else {
		c.untranslated++
	}
	c.mu.Unlock()
}

// AddRateLimited counts a rate_limited reply.
func (c *Collector) AddRateLimited() {
	c.mu.Lock()
	c.rateLimited++
	c.mu.Unlock()
}

// AddError increments the error counter.
func (c *Collector) AddError() {
	c.mu.Lock()
	c.errors++
	c.mu.Unlock()
}

// ConnectionCount returns the number of recorded connections.
func (c *Collector) ConnectionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connections
}

// ErrorCount returns the number of recorded errors.
func (c *Collector) ErrorCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errors
}

// DeliveryCount returns the number of delivered messages observed.
func (c *Collector) DeliveryCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.deliveryLatency)
}

// Report prints the collected metrics to stdout.
func (c *Collector) Report() {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Println("\n=== Load Test Results ===")
	fmt.Printf("Duration:     %s\n", time.Since(c.startTime).Round(time.Second))
	fmt.Printf("Connections:  %d\n", c.connections)
	fmt.Printf("Errors:       %d\n", c.errors)
	if c.connections > 0 {
		fmt.Printf("Error rate:   %.2f%%\n", float64(c.errors)/float64(c.connections)*100)
	}
	if n := c.translated + c.untranslated; n > 0 {
		fmt.Printf("Delivered:    %d (%d translated, %d passed through)\n", n, c.translated, c.untranslated)
	}
	if c.rateLimited > 0 {
		fmt.Printf("Rate limited: %d\n", c.rateLimited)
	}

	if len(c.connectLatencies) > 0 {
		fmt.Println("\n--- Connect Latency ---")
		fmt.Println(summarize(c.connectLatencies))
	}
	if len(c.deliveryLatency) > 0 {
		fmt.Println("\n--- Send to Delivery Latency ---")
		fmt.Println(summarize(c.deliveryLatency))
	}

	if c.scraper != nil {
		c.scraper.Report()
	}
	fmt.Println()
}

// summarize sorts durations in place and formats avg, p50, p95, p99 and max.
func summarize(durations []time.Duration) string {
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	n := len(durations)
	var sum time.Duration
	for _, d := range durations {
		sum += d
	}
	pct := func(p float64) time.Duration {
		return durations[int(math.Ceil(float64(n)*p))-1]
	}

	return fmt.Sprintf("  avg: %v  p50: %v  p95: %v  p99: %v  max: %v  (n=%d)",
		(sum / time.Duration(n)).Round(time.Microsecond),
		durations[n/2].Round(time.Microsecond),
		pct(0.95).Round(time.Microsecond),
		pct(0.99).Round(time.Microsecond),
		durations[n-1].Round(time.Microsecond),
		n,
	)
}
