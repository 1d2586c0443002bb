// Package main drives a running gateway with synthetic room traffic:
// N concurrent sessions each join the room, type and send messages.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/carelink/messenger/internal/client"
	"github.com/carelink/messenger/internal/history"
	"github.com/carelink/messenger/internal/identity"
)

func main() {
	gatewayURL := flag.String("gateway", "http://localhost:8080", "gateway base URL")
	roomID := flag.String("room", "loadtest", "room to flood")
	sessions := flag.Int("sessions", 10, "concurrent sessions")
	messages := flag.Int("messages", 20, "messages per session")
	interval := flag.Duration("interval", 100*time.Millisecond, "delay between sends")
	flag.Parse()

	log.SetFlags(log.LstdFlags)

	wsURL := "ws" + strings.TrimPrefix(*gatewayURL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	var sent, received atomic.Int64
	start := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < *sessions; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			userID := fmt.Sprintf("load-user-%d", n)
			hist := history.NewClient(*gatewayURL)
			hist.Token = func() string { return identity.DevToken(userID) }
			mgr := client.NewManager(wsURL, hist, identity.Static(userID))
			defer mgr.Disconnect()

			if err := mgr.Connect(ctx, *roomID); err != nil {
				log.Printf("[error] session %s: %v", userID, err)
				return
			}

			frames, cancelFrames := mgr.SubscribeFrames()
			defer cancelFrames()
			go func() {
				for range frames {
					received.Add(1)
				}
			}()

			deb := client.NewDebouncer(func(isTyping bool) {
				mgr.SendTypingIndicator(*roomID, isTyping)
			})
			defer deb.Stop()

			for m := 0; m < *messages; m++ {
				deb.Keystroke()
				mgr.SendTextMessage(*roomID, fmt.Sprintf("message %d from %s", m, userID))
				sent.Add(1)

				select {
				case <-time.After(*interval):
				case <-ctx.Done():
					return
				}
			}
		}(i)
	}
	wg.Wait()

	// Give the fan-out a moment to drain.
	time.Sleep(time.Second)

	elapsed := time.Since(start)
	log.Printf("sent %d messages across %d sessions in %s (%.0f msg/s), observed %d frames",
		sent.Load(), *sessions, elapsed.Round(time.Millisecond),
		float64(sent.Load())/elapsed.Seconds(), received.Load())
}
