package stats

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// series describes one value extracted from the server's /metrics output.
// Lines whose name matches and whose labels contain every entry of match
// are summed.
type series struct {
	label string
	name  string
	match []string
}

var (
	gauges = []series{
		{label: "Connections", name: "polyglot_connections_total"},
		{label: "Active Rooms", name: "polyglot_active_rooms"},
		{label: "Messages Sent", name: "polyglot_messages_total", match: []string{`result="sent"`}},
		{label: "Msgs Failed", name: "polyglot_messages_total", match: []string{`result="failed"`}},
		{label: "Translations", name: "polyglot_translations_total"},
		{label: "Degraded", name: "polyglot_translations_total", match: []string{`outcome="degraded"`}},
		{label: "Deliveries", name: "polyglot_broadcast_deliveries_total", match: []string{`result="ok"`}},
	}

	// histograms are reported as the average over the run, from the deltas
	// of their _sum and _count series.
	histograms = []series{
		{label: "Send Latency", name: "polyglot_message_send_seconds"},
		{label: "Provider Call", name: "polyglot_translation_provider_seconds"},
	}
)

// snapshot is one scrape, keyed by series label. Histogram entries are
// stored under "<label>_sum" and "<label>_count".
type snapshot struct {
	at     time.Time
	values map[string]float64
}

// Scraper periodically fetches Prometheus metrics from the server and keeps
// the snapshots for the final report.
type Scraper struct {
	metricsURL string
	interval   time.Duration
	client     *http.Client

	mu        sync.Mutex
	snapshots []snapshot

	cancel context.CancelFunc
	done   chan struct{}
}

// NewScraper creates a Scraper for metricsURL.
func NewScraper(metricsURL string, interval time.Duration) *Scraper {
	return &Scraper{
		metricsURL: metricsURL,
		interval:   interval,
		client:     &http.Client{Timeout: 5 * time.Second},
		done:       make(chan struct{}),
	}
}

// Start takes a snapshot immediately and then one per interval until ctx is
// cancelled or Stop is called. A final snapshot is taken on the way out.
func (s *Scraper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.scrapeOnce(ctx)

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.scrapeOnce(context.Background())
				return
			case <-ticker.C:
				s.scrapeOnce(ctx)
			}
		}
	}()
}

// Stop stops the background scraper and waits for it to finish. It is safe
// to call more than once.
func (s *Scraper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *Scraper) scrapeOnce(ctx context.Context) {
	snap, err := s.fetch(ctx)
	if err != nil {
		// The server may not be up yet.
		return
	}
	s.mu.Lock()
	s.snapshots = append(s.snapshots, snap)
	s.mu.Unlock()
}

func (s *Scraper) fetch(ctx context.Context) (snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.metricsURL, nil)
	if err != nil {
		return snapshot{}, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return snapshot{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return snapshot{}, fmt.Errorf("metrics: status %d", resp.StatusCode)
	}

	snap := snapshot{at: time.Now(), values: make(map[string]float64)}
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if line == "" || line[0] == '#' {
			continue
		}
		name, labels, value, ok := parseSample(line)
		if !ok {
			continue
		}
		for _, g := range gauges {
			if name == g.name && hasLabels(labels, g.match) {
				snap.values[g.label] += value
			}
		}
		for _, h := range histograms {
			switch name {
			case h.name + "_sum":
				snap.values[h.label+"_sum"] += value
			case h.name + "_count":
				snap.values[h.label+"_count"] += value
			}
		}
	}
	return snap, sc.Err()
}

// parseSample splits a text exposition sample such as
// `name{a="b"} 1.5` into its name, raw label block and value.
func parseSample(line string) (name, labels string, value float64, ok bool) {
	rest := line
	if i := strings.IndexByte(line, '{'); i >= 0 {
		j := strings.IndexByte(line[i:], '}')
		if j < 0 {
			return "", "", 0, false
		}
		name, labels, rest = line[:i], line[i+1:i+j], line[i+j+1:]
	} else {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return "", "", 0, false
		}
		name, rest = fields[0], strings.Join(fields[1:], " ")
	}

	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return "", "", 0, false
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return "", "", 0, false
	}
	return name, labels, v, true
}

func hasLabels(labels string, want []string) bool {
	for _, w := range want {
		if !strings.Contains(labels, w) {
			return false
		}
	}
	return true
}

// Report prints the initial, final, delta and peak value of each gauge
// series, then the run average of each histogram.
func (s *Scraper) Report() {
	s.mu.Lock()
	snaps := append([]snapshot(nil), s.snapshots...)
	s.mu.Unlock()

	if len(snaps) == 0 {
		fmt.Println("\n--- Server Metrics (no data collected) ---")
		return
	}
	first, last := snaps[0], snaps[len(snaps)-1]

	fmt.Println("\n--- Server Metrics (Prometheus) ---")
	fmt.Printf("  Scrape count:  %d snapshots over %s\n",
		len(snaps), last.at.Sub(first.at).Round(time.Second))

	fmt.Println()
	fmt.Printf("  %-16s %10s %10s %10s %10s\n", "Metric", "Initial", "Final", "Delta", "Peak")
	fmt.Printf("  %-16s %10s %10s %10s %10s\n", "------", "-------", "-----", "-----", "----")
	for _, g := range gauges {
		peak := math.Inf(-1)
		for _, sn := range snaps {
			peak = math.Max(peak, sn.values[g.label])
		}
		a, b := first.values[g.label], last.values[g.label]
		fmt.Printf("  %-16s %10.0f %10.0f %10.0f %10.0f\n", g.label, a, b, b-a, peak)
	}

	fmt.Println()
	for _, h := range histograms {
		sum := last.values[h.label+"_sum"] - first.values[h.label+"_sum"]
		count := last.values[h.label+"_count"] - first.values[h.label+"_count"]
		if count > 0 {
			fmt.Printf("  %-16s avg: %.4fs  (%.0f observations)\n", h.label, sum/count, count)
		} else {
			fmt.Printf("  %-16s avg: N/A  (no observations)\n", h.label)
		}
	}
}
