package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/whisper/polyglot/loadtest/client"
	"github.com/whisper/polyglot/loadtest/stats"
)

// chatPair is one conversation driven by two simulated users.
type chatPair struct {
	conversationID string
	users          [2]string
	clients        [2]*client.Client
}

// runChat implements the conversation load test. Each pair creates a
// conversation over REST, joins the room from two sockets, then both sides
// send messages at a fixed interval. Delivery latency is measured from
// send_message to the peer receiving new_message.
func runChat(args []string) {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	url := fs.String("url", "ws://localhost:8080/ws", "WebSocket server URL")
	apiURL := fs.String("api-url", "http://localhost:8080", "REST API base URL")
	pairs := fs.Int("pairs", 100, "Number of conversations")
	chatDuration := fs.Duration("chat-duration", 30*time.Second, "How long each pair chats")
	msgInterval := fs.Duration("msg-interval", 2*time.Second, "Interval between messages per user")
	msgSize := fs.Int("msg-size", 64, "Approximate size of each message in bytes")
	target := fs.String("target", "", "Override translation target language (empty uses the recipient preference)")
	concurrency := fs.Int("concurrency", 50, "Maximum simultaneous pair setups")
	metricsURL := fs.String("metrics-url", "http://localhost:8080/metrics", "Prometheus metrics endpoint URL")
	scrapeInterval := fs.Duration("scrape-interval", 2*time.Second, "Interval between metrics scrapes")
	fs.Parse(args)

	fmt.Printf("Chat test: %d pairs to %s (chat=%s, interval=%s, msg-size=%d, target=%q)\n",
		*pairs, *url, *chatDuration, *msgInterval, *msgSize, *target)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()
	scraper := stats.NewScraper(*metricsURL, *scrapeInterval)
	collector.SetScraper(scraper)
	scraper.Start(ctx)

	httpClient := &http.Client{Timeout: 10 * time.Second}
	run := time.Now().UnixNano()

	// sent maps message text to its send time so the receiving side can
	// compute delivery latency.
	var sent sync.Map

	// -----------------------------------------------------------------------
	// Phase 1: create conversations and join rooms
	// -----------------------------------------------------------------------
	fmt.Println("\n--- Phase 1: Set up conversations ---")

	var mu sync.Mutex
	ready := make([]*chatPair, 0, *pairs)
	sem := make(chan struct{}, *concurrency)
	var wg sync.WaitGroup

	for i := 0; i < *pairs && ctx.Err() == nil; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()

			p := &chatPair{users: [2]string{
				fmt.Sprintf("lt-%d-%d-a", run, i),
				fmt.Sprintf("lt-%d-%d-b", run, i),
			}}
			id, err := createConversation(ctx, httpClient, *apiURL, p.users[0], p.users[1])
			if err != nil {
				collector.AddError()
				return
			}
			p.conversationID = id

			for side := range p.users {
				c, err := joinRoom(ctx, *url, id, p.users[side])
				if err != nil {
					collector.AddError()
					p.close()
					return
				}
				collector.AddConnect(c.GetMetrics().ConnectLatency)
				watch(c, p.users[side], &sent, collector)
				p.clients[side] = c
			}

			mu.Lock()
			ready = append(ready, p)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	fmt.Printf("Ready: %d/%d pairs (%d errors)\n", len(ready), *pairs, collector.ErrorCount())

	// -----------------------------------------------------------------------
	// Phase 2: exchange messages
	// -----------------------------------------------------------------------
	fmt.Println("\n--- Phase 2: Exchange messages ---")

	chatCtx, chatCancel := context.WithTimeout(ctx, *chatDuration)
	defer chatCancel()

	var sentCount atomic.Int64
	for _, p := range ready {
		for side := range p.clients {
			wg.Add(1)
			go func(c *client.Client, sender string) {
				defer wg.Done()
				ticker := time.NewTicker(*msgInterval)
				defer ticker.Stop()
				for seq := 0; ; seq++ {
					select {
					case <-chatCtx.Done():
						return
					case <-ticker.C:
					}
					text := payload(sender, seq, *msgSize)
					sent.Store(text, time.Now())
					if err := c.SendText(p.conversationID, sender, text, *target); err != nil {
						collector.AddError()
						return
					}
					sentCount.Add(1)
				}
			}(p.clients[side], p.users[side])
		}
	}

	progress := time.NewTicker(5 * time.Second)
progressLoop:
	for {
		select {
		case <-chatCtx.Done():
			break progressLoop
		case <-progress.C:
			fmt.Printf("  [chat] sent: %d  delivered: %d  errors: %d\n",
				sentCount.Load(), collector.DeliveryCount(), collector.ErrorCount())
		}
	}
	progress.Stop()
	wg.Wait()

	// Give in-flight translations a moment to land.
	time.Sleep(*msgInterval)

	// -----------------------------------------------------------------------
	// Cleanup
	// -----------------------------------------------------------------------
	fmt.Println("\n--- Cleanup ---")
	for _, p := range ready {
		p.close()
	}
	scraper.Stop()

	fmt.Printf("Messages sent: %d\n", sentCount.Load())
	collector.Report()
}

// createConversation calls POST /chat/conversations and returns the id.
func createConversation(ctx context.Context, hc *http.Client, base, a, b string) (string, error) {
	body, err := json.Marshal(map[string]string{"participant1_id": a, "participant2_id": b})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(base, "/")+"/chat/conversations", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("create conversation: status %d", resp.StatusCode)
	}

	var conv struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&conv); err != nil {
		return "", fmt.Errorf("decode conversation: %w", err)
	}
	return conv.ID, nil
}

// joinRoom connects a socket, waits for the handshake and joins the
// conversation room, returning once joined_conversation arrives.
func joinRoom(ctx context.Context, url, conversationID, userID string) (*client.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	c, err := client.New(ctx, url)
	if err != nil {
		return nil, err
	}
	if err := c.WaitForSession(ctx); err != nil {
		c.Close()
		return nil, err
	}

	if err := joinAndWait(ctx, c, conversationID, userID); err != nil {
		c.Close()
		return nil, fmt.Errorf("join %s: %w", conversationID, err)
	}
	return c, nil
}

// watch registers handlers that record deliveries of the peer's messages
// and server-side rejections.
func watch(c *client.Client, self string, sent *sync.Map, collector *stats.Collector) {
	c.On(client.TypeNewMessage, func(raw json.RawMessage) {
		var ev struct {
			Message client.NewMessage `json:"message"`
		}
		if err := json.Unmarshal(raw, &ev); err != nil {
			return
		}
		m := ev.Message
		if m.SenderID == self {
			return
		}
		at, ok := sent.LoadAndDelete(m.OriginalText)
		if !ok {
			return
		}
		collector.AddDelivery(time.Since(at.(time.Time)), m.TranslatedText != m.OriginalText)
	})
	c.On(client.TypeRateLimited, func(json.RawMessage) {
		collector.AddRateLimited()
	})
	c.On(client.TypeError, func(json.RawMessage) {
		collector.AddError()
	})
}

// payload builds a unique message text of roughly size bytes.
func payload(sender string, seq, size int) string {
	head := fmt.Sprintf("%s #%d ", sender, seq)
	if pad := size - len(head); pad > 0 {
		return head + strings.Repeat("hello ", pad/6+1)[:pad]
	}
	return head
}

func (p *chatPair) close() {
	for _, c := range p.clients {
		if c != nil {
			c.Close()
		}
	}
}
