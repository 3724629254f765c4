// Package main provides a load probe for the chat and call websocket surface.
// It registers pairs of users, befriends them, and has both sides chat over
// their sockets while it counts acks and delivered events.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
)

// Metrics tracks the probe results
type Metrics struct {
	ConnectionsAttempted int64
	ConnectionsSuccess   int64
	ConnectionsFailed    int64
	CommandsSent         int64
	AcksOK               int64
	AcksFailed           int64
	MessagesDelivered    int64
	CallsRung            int64
	Errors               int64
	ackLatencyMicros     int64
}

var metrics Metrics

type user struct {
	ID    string `json:"id"`
	Code  string `json:"code"`
	token string
}

type envelope struct {
	Type    string          `json:"type"`
	Ref     string          `json:"ref,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func main() {
	host := flag.String("host", "localhost:8375", "API server host")
	pairs := flag.Int("pairs", 10, "Number of user pairs")
	duration := flag.Duration("duration", 30*time.Second, "Probe duration")
	interval := flag.Duration("interval", 2*time.Second, "Delay between messages per client")
	calls := flag.Bool("calls", true, "Ring one call per pair")
	flag.Parse()

	log.Printf("🚀 Starting chat probe")
	log.Printf("Target: %s", *host)
	log.Printf("Pairs: %d", *pairs)
	log.Printf("Duration: %v", *duration)

	api := resty.New().
		SetBaseURL("http://"+*host+"/api").
		SetTimeout(5*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(200*time.Millisecond)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	var wg sync.WaitGroup
	stopChan := make(chan struct{})
	run := strconv.FormatInt(time.Now().Unix(), 36)

	for i := 0; i < *pairs; i++ {
		a, b, convID, err := setupPair(api, fmt.Sprintf("probe%s%da", run, i), fmt.Sprintf("probe%s%db", run, i))
		if err != nil {
			log.Printf("❌ Pair %d setup failed: %v", i, err)
			atomic.AddInt64(&metrics.Errors, 1)
			continue
		}
		wg.Add(2)
		go runClient(api, *host, a, convID, *interval, *calls, stopChan, &wg)
		go runClient(api, *host, b, convID, *interval, false, stopChan, &wg)
		time.Sleep(50 * time.Millisecond) // Stagger connections to allow ticket issuance
	}

	// Wait for duration or interrupt
	select {
	case <-time.After(*duration):
		log.Println("⏱️  Probe duration reached")
	case <-interrupt:
		log.Println("🛑 Interrupted by user")
	}

	close(stopChan)
	log.Println("Waiting for clients to disconnect...")
	wg.Wait()

	printMetrics()
}

func register(api *resty.Client, username string) (*user, error) {
	var out struct {
		Token string `json:"token"`
		User  user   `json:"user"`
	}
	resp, err := api.R().
		SetBody(map[string]string{"username": username}).
		SetResult(&out).
		Post("/register")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("register %s failed with status %d", username, resp.StatusCode())
	}
	u := out.User
	u.token = out.Token
	return &u, nil
}

func setupPair(api *resty.Client, nameA, nameB string) (*user, *user, string, error) {
	a, err := register(api, nameA)
	if err != nil {
		return nil, nil, "", err
	}
	b, err := register(api, nameB)
	if err != nil {
		return nil, nil, "", err
	}

	var req struct {
		ID string `json:"id"`
	}
	resp, err := api.R().SetAuthToken(a.token).
		SetBody(map[string]string{"code": b.Code}).
		SetResult(&req).
		Post("/friends/requests")
	if err != nil || resp.IsError() {
		return nil, nil, "", fmt.Errorf("friend request failed: %v %s", err, resp.Status())
	}
	resp, err = api.R().SetAuthToken(b.token).
		SetBody(map[string]bool{"accept": true}).
		Post("/friends/requests/" + req.ID + "/respond")
	if err != nil || resp.IsError() {
		return nil, nil, "", fmt.Errorf("friend accept failed: %v %s", err, resp.Status())
	}

	var conv struct {
		ID string `json:"id"`
	}
	resp, err = api.R().SetAuthToken(a.token).
		SetBody(map[string]string{"user_id": b.ID}).
		SetResult(&conv).
		Post("/conversations/direct")
	if err != nil || resp.IsError() {
		return nil, nil, "", fmt.Errorf("direct conversation failed: %v %s", err, resp.Status())
	}
	return a, b, conv.ID, nil
}

func getTicket(api *resty.Client, token string) (string, error) {
	var result struct {
		Ticket string `json:"ticket"`
	}
	resp, err := api.R().SetAuthToken(token).SetResult(&result).Post("/ws/ticket")
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		return "", fmt.Errorf("ticket issuance failed with status %d", resp.StatusCode())
	}
	return result.Ticket, nil
}

func runClient(api *resty.Client, host string, u *user, convID string, interval time.Duration, ring bool, stopChan <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	atomic.AddInt64(&metrics.ConnectionsAttempted, 1)

	// Get a fresh ticket for this connection
	ticket, err := getTicket(api, u.token)
	if err != nil {
		atomic.AddInt64(&metrics.ConnectionsFailed, 1)
		atomic.AddInt64(&metrics.Errors, 1)
		return
	}

	wsURL := url.URL{Scheme: "ws", Host: host, Path: "/ws", RawQuery: "ticket=" + url.QueryEscape(ticket)}
	c, resp, err := websocket.DefaultDialer.Dial(wsURL.String(), nil)
	if err != nil {
		atomic.AddInt64(&metrics.ConnectionsFailed, 1)
		atomic.AddInt64(&metrics.Errors, 1)
		return
	}
	if resp != nil && resp.Body != nil {
		defer func() { _ = resp.Body.Close() }()
	}
	defer func() { _ = c.Close() }()

	atomic.AddInt64(&metrics.ConnectionsSuccess, 1)

	var sentAt sync.Map // ref -> time.Time
	var writeMu sync.Mutex
	send := func(command, ref string, payload interface{}) error {
		raw, _ := json.Marshal(payload)
		sentAt.Store(ref, time.Now())
		writeMu.Lock()
		defer writeMu.Unlock()
		atomic.AddInt64(&metrics.CommandsSent, 1)
		return c.WriteJSON(envelope{Type: command, Ref: ref, Payload: raw})
	}

	// Read loop
	go func() {
		for {
			var env envelope
			if err := c.ReadJSON(&env); err != nil {
				return
			}
			switch env.Type {
			case "ack":
				var ack struct {
					Ref string `json:"ref"`
					OK  bool   `json:"ok"`
				}
				_ = json.Unmarshal(env.Payload, &ack)
				if started, ok := sentAt.LoadAndDelete(ack.Ref); ok {
					atomic.AddInt64(&metrics.ackLatencyMicros, time.Since(started.(time.Time)).Microseconds())
				}
				if ack.OK {
					atomic.AddInt64(&metrics.AcksOK, 1)
				} else {
					atomic.AddInt64(&metrics.AcksFailed, 1)
				}
			case "new_message":
				atomic.AddInt64(&metrics.MessagesDelivered, 1)
			case "incoming_call":
				atomic.AddInt64(&metrics.CallsRung, 1)
				var call struct {
					CallID string `json:"call_id"`
				}
				_ = json.Unmarshal(env.Payload, &call)
				_ = send("answer_call", "answer-"+call.CallID, map[string]interface{}{
					"call_id": call.CallID, "accept": false,
				})
			}
		}
	}()

	if ring {
		_ = send("start_call", "call-"+u.ID, map[string]interface{}{
			"conversation_id": convID,
			"call_type":       "voice",
			"offer":           map[string]string{"type": "offer", "sdp": "probe"},
		})
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	seq := 0
	for {
		select {
		case <-stopChan:
			writeMu.Lock()
			_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			writeMu.Unlock()
			return
		case <-ticker.C:
			seq++
			err := send("send_message", fmt.Sprintf("%s-%d", u.ID, seq), map[string]string{
				"conversation_id": convID,
				"type":            "text",
				"content":         fmt.Sprintf("probe message %d from %s", seq, u.ID),
			})
			if err != nil {
				atomic.AddInt64(&metrics.Errors, 1)
				return
			}
		}
	}
}

func printMetrics() {
	acks := atomic.LoadInt64(&metrics.AcksOK) + atomic.LoadInt64(&metrics.AcksFailed)
	var avg time.Duration
	if acks > 0 {
		avg = time.Duration(atomic.LoadInt64(&metrics.ackLatencyMicros)/acks) * time.Microsecond
	}

	log.Println("\n📊 Probe Results")
	log.Println("================")
	log.Printf("Connections Attempted: %d", atomic.LoadInt64(&metrics.ConnectionsAttempted))
	log.Printf("Connections Successful: %d", atomic.LoadInt64(&metrics.ConnectionsSuccess))
	log.Printf("Connections Failed: %d", atomic.LoadInt64(&metrics.ConnectionsFailed))
	log.Printf("Commands Sent: %d", atomic.LoadInt64(&metrics.CommandsSent))
	log.Printf("Acks OK / Failed: %d / %d", atomic.LoadInt64(&metrics.AcksOK), atomic.LoadInt64(&metrics.AcksFailed))
	log.Printf("Average Ack Latency: %v", avg)
	log.Printf("Messages Delivered: %d", atomic.LoadInt64(&metrics.MessagesDelivered))
	log.Printf("Calls Rung: %d", atomic.LoadInt64(&metrics.CallsRung))
	log.Printf("Total Errors: %d", atomic.LoadInt64(&metrics.Errors))
}
