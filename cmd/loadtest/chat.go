package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/deskline/support-chat/internal/chat"
	"github.com/deskline/support-chat/internal/loadtest/client"
	"github.com/deskline/support-chat/internal/loadtest/stats"
	"github.com/deskline/support-chat/internal/protocol"
)

// chatCounters are shared by every conversation for progress output.
type chatCounters struct {
	sent, recv, active, completed, closed, errors atomic.Int64
}

type chatParams struct {
	apiURL      string
	companyID   string
	duration    time.Duration
	msgInterval time.Duration
	payload     string
	joinTimeout time.Duration
}

// runChat pairs connections into customer/agent conversations. Each pair
// creates a ticket over REST, joins it, exchanges messages for the chat
// duration, and the agent closes the ticket.
func runChat(args []string) {
	fs := pflag.NewFlagSet("chat", pflag.ExitOnError)
	url := fs.String("url", "ws://localhost:8080/ws", "WebSocket server URL")
	apiURL := fs.String("api-url", "http://localhost:3000", "REST API base URL")
	companyID := fs.String("company", "company-1", "Company the tickets are opened for")
	pairs := fs.Int("pairs", 100, "Number of customer/agent pairs")
	rampUp := fs.Duration("ramp", 10*time.Second, "Ramp-up duration for connection creation")
	chatDuration := fs.Duration("chat-duration", 30*time.Second, "How long each pair chats")
	msgInterval := fs.Duration("msg-interval", 2*time.Second, "Interval between messages per participant")
	msgSize := fs.Int("msg-size", 128, "Size of each message payload in bytes")
	concurrency := fs.Int("concurrency", 50, "Maximum simultaneous connection attempts during ramp-up")
	joinTimeout := fs.Duration("join-timeout", 10*time.Second, "Timeout for ticket creation and join")
	metricsURL := fs.String("metrics-url", "http://localhost:8080/metrics", "Prometheus metrics endpoint URL")
	scrapeInterval := fs.Duration("scrape-interval", 2*time.Second, "Interval between metrics scrapes")
	_ = fs.Parse(args)

	fmt.Printf("Chat test: %d pairs to %s (api=%s, company=%s, chat=%s, interval=%s, msg-size=%d)\n",
		*pairs, *url, *apiURL, *companyID, *chatDuration, *msgInterval, *msgSize)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()
	scraper := stats.NewScraper(*metricsURL, *scrapeInterval)
	collector.SetScraper(scraper)
	scraper.Start(ctx)

	fmt.Println("\n--- Phase 1: Connect ---")
	clients, interrupted := rampConnect(ctx, *url, *pairs*2, *rampUp, *concurrency, collector)
	if interrupted || len(clients) < 2 {
		fmt.Println("Not enough connections for any pair.")
		closeAll(clients)
		scraper.Stop()
		collector.Report()
		return
	}

	n := len(clients) / 2
	params := chatParams{
		apiURL:      strings.TrimRight(*apiURL, "/"),
		companyID:   *companyID,
		duration:    *chatDuration,
		msgInterval: *msgInterval,
		payload:     strings.Repeat("x", *msgSize),
		joinTimeout: *joinTimeout,
	}

	fmt.Printf("\n--- Phase 2: Running %d conversations ---\n", n)
	var counters chatCounters

	progressStop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fmt.Printf("  [chat] active: %d  completed: %d/%d  sent: %d  recv: %d  errors: %d\n",
					counters.active.Load(), counters.completed.Load(), n,
					counters.sent.Load(), counters.recv.Load(), counters.errors.Load())
			case <-progressStop:
				return
			}
		}
	}()

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		customer, agent := clients[i*2], clients[i*2+1]
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			select {
			case <-time.After(time.Duration(i) * 50 * time.Millisecond):
			case <-ctx.Done():
				return
			}
			if err := runConversation(ctx, i, customer, agent, params, collector, &counters); err != nil {
				counters.errors.Add(1)
				collector.AddError()
			}
		}(i)
	}
	wg.Wait()
	close(progressStop)
	elapsed := time.Since(start)

	fmt.Printf("\n--- Chat Results ---\n")
	fmt.Printf("Conversations:     %d\n", n)
	fmt.Printf("Tickets closed:    %d / %d\n", counters.closed.Load(), n)
	fmt.Printf("Total msg sent:    %d\n", counters.sent.Load())
	fmt.Printf("Total msg recv:    %d\n", counters.recv.Load())
	fmt.Printf("Errors:            %d\n", counters.errors.Load())
	fmt.Printf("Chat duration:     %s\n", elapsed.Round(time.Millisecond))
	if s := elapsed.Seconds(); s > 0 {
		fmt.Printf("Msg throughput:    %.1f msg/s\n", float64(counters.sent.Load())/s)
	}

	closeAll(clients)
	scraper.Stop()
	collector.Report()
}

func runConversation(ctx context.Context, i int, customer, agent *client.Client, p chatParams, collector *stats.Collector, counters *chatCounters) error {
	counters.active.Add(1)
	defer counters.active.Add(-1)
	defer counters.completed.Add(1)

	customerName := fmt.Sprintf("loadtest-customer-%d", i)
	agentName := fmt.Sprintf("loadtest-agent-%d", i)

	joinCtx, cancel := context.WithTimeout(ctx, p.joinTimeout)
	defer cancel()

	ticket, err := createTicket(joinCtx, p.apiURL, p.companyID, customer.SessionID(), customerName)
	if err != nil {
		return err
	}

	// Each side measures latency on messages from the other side; content
	// carries the send time.
	for _, side := range []struct {
		c    *client.Client
		peer chat.SenderType
	}{{customer, chat.SenderAgent}, {agent, chat.SenderCustomer}} {
		peer := side.peer
		side.c.On(protocol.TypeMessageReceived, func(raw json.RawMessage) {
			var m protocol.MessageReceivedMsg
			if err := json.Unmarshal(raw, &m); err != nil || m.Message.SenderType != peer {
				return
			}
			counters.recv.Add(1)
			if sent, ok := sentAt(m.Message.Content); ok {
				collector.AddMsgLatency(time.Since(sent))
			}
		})
	}

	customerJoined := waitFor(customer, protocol.TypeTicketHistory)
	agentJoined := waitFor(agent, protocol.TypeTicketHistory)
	if err := customer.Join(p.companyID, ticket.ID, "customer", customerName); err != nil {
		return err
	}
	if err := agent.Join(p.companyID, ticket.ID, "agent", agentName); err != nil {
		return err
	}
	for _, ch := range []<-chan struct{}{customerJoined, agentJoined} {
		select {
		case <-ch:
		case <-joinCtx.Done():
			return fmt.Errorf("join ticket %s: %w", ticket.ID, joinCtx.Err())
		}
	}

	chatCtx, chatCancel := context.WithTimeout(ctx, p.duration)
	defer chatCancel()

	var wg sync.WaitGroup
	for _, side := range []struct {
		c          *client.Client
		name       string
		senderType chat.SenderType
	}{{customer, customerName, chat.SenderCustomer}, {agent, agentName, chat.SenderAgent}} {
		wg.Add(1)
		go func(c *client.Client, name string, senderType chat.SenderType) {
			defer wg.Done()
			ticker := time.NewTicker(p.msgInterval)
			defer ticker.Stop()
			for {
				select {
				case <-chatCtx.Done():
					return
				case <-ticker.C:
					content := stamp(time.Now(), p.payload)
					if err := c.SendMessage(ticket.ID, name, string(senderType), content); err != nil {
						counters.errors.Add(1)
						return
					}
					counters.sent.Add(1)
				}
			}
		}(side.c, side.name, side.senderType)
	}
	wg.Wait()

	closedSeen := waitFor(customer, protocol.TypeTicketStatusUpdated)
	closeCtx, closeCancel := context.WithTimeout(context.Background(), p.joinTimeout)
	defer closeCancel()
	if err := closeTicket(closeCtx, p.apiURL, p.companyID, ticket.ID); err != nil {
		return err
	}
	select {
	case <-closedSeen:
		counters.closed.Add(1)
	case <-closeCtx.Done():
		return fmt.Errorf("status update for %s not delivered", ticket.ID)
	}
	return nil
}

// waitFor returns a channel closed the first time c receives msgType.
func waitFor(c *client.Client, msgType string) <-chan struct{} {
	ch := make(chan struct{})
	var once sync.Once
	c.On(msgType, func(json.RawMessage) { once.Do(func() { close(ch) }) })
	return ch
}

func stamp(t time.Time, payload string) string {
	return strconv.FormatInt(t.UnixNano(), 10) + ":" + payload
}

func sentAt(content string) (time.Time, bool) {
	prefix, _, ok := strings.Cut(content, ":")
	if !ok {
		return time.Time{}, false
	}
	ns, err := strconv.ParseInt(prefix, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, ns), true
}

func createTicket(ctx context.Context, apiURL, companyID, customerID, customerName string) (chat.Ticket, error) {
	var t chat.Ticket
	body := map[string]string{"companyId": companyID, "customerId": customerID, "customerName": customerName}
	err := doJSON(ctx, http.MethodPost, apiURL+"/api/tickets", body, http.StatusCreated, &t)
	return t, err
}

func closeTicket(ctx context.Context, apiURL, companyID, ticketID string) error {
	path := fmt.Sprintf("%s/api/companies/%s/tickets/%s/status", apiURL, companyID, ticketID)
	return doJSON(ctx, http.MethodPatch, path, map[string]string{"status": string(chat.StatusClosed)}, http.StatusOK, nil)
}

func doJSON(ctx context.Context, method, url string, body interface{}, want int, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return fmt.Errorf("%s %s: status %d", method, url, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
