// Package main is a terminal client for poking at a running gateway:
// join a room, watch messages and typing indicators, send text.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/carelink/messenger/internal/client"
	"github.com/carelink/messenger/internal/history"
	"github.com/carelink/messenger/internal/identity"
	"github.com/carelink/messenger/internal/model"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("failed to load .env file: %+v", err)
	}
	log.SetFlags(log.LstdFlags)

	gatewayURL := envOr("GATEWAY_URL", "http://localhost:8080")
	wsURL := envOr("WS_URL", "ws"+strings.TrimPrefix(gatewayURL, "http"))
	roomID := envOr("ROOM_ID", "lobby")

	var id identity.Provider
	token := os.Getenv("ACCESS_TOKEN")
	if token != "" {
		store := identity.MemoryStore{identity.TokenKey: token}
		id = identity.NewTokenProvider(store)
	} else {
		userID := envOr("USER_ID", "demo-user")
		token = identity.DevToken(userID)
		id = identity.Static(userID)
	}

	hist := history.NewClient(gatewayURL)
	hist.Token = func() string { return token }

	mgr := client.NewManager(wsURL, hist, id)
	mgr.Token = hist.Token
	defer mgr.Disconnect()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := mgr.Connect(ctx, roomID); err != nil {
		log.Fatalf("could not join room %s: %v", roomID, err)
	}

	for _, msg := range mgr.Messages() {
		printMessage(mgr.UserID(), msg)
	}

	frames, cancelFrames := mgr.SubscribeFrames()
	defer cancelFrames()
	typers, cancelTypers := mgr.SubscribeTyping()
	defer cancelTypers()

	go func() {
		for {
			select {
			case env := <-frames:
				if env.IsChatFrame() && env.Message != nil {
					printMessage(mgr.UserID(), *env.Message)
				}
			case state := <-typers:
				var active []string
				for user, typing := range state {
					if typing {
						active = append(active, user)
					}
				}
				if len(active) > 0 {
					fmt.Printf("  (%s typing...)\n", strings.Join(active, ", "))
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	deb := client.NewDebouncer(func(isTyping bool) {
		mgr.SendTypingIndicator(roomID, isTyping)
	})
	defer deb.Stop()

	fmt.Printf("joined %s as %s; type a message and press enter\n", roomID, mgr.UserID())

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			return
		}
		if strings.HasPrefix(line, "/file ") {
			parts := strings.Fields(line)
			if len(parts) != 3 {
				fmt.Println("usage: /file <url> <name>")
				continue
			}
			mgr.SendFileMessage(roomID, parts[1], parts[2])
			continue
		}
		deb.Keystroke()
		mgr.SendTextMessage(roomID, line)
	}
}

func printMessage(self string, msg model.ChatMessage) {
	who := msg.SenderID
	if who == self {
		who = "you"
	}
	switch msg.Type {
	case model.MessageFile, model.MessageVoice:
		fmt.Printf("[%s] %s: %s (%s)\n", msg.CreatedAt.Local().Format("15:04"), who, msg.FileName, msg.FileURL)
	default:
		fmt.Printf("[%s] %s: %s\n", msg.CreatedAt.Local().Format("15:04"), who, msg.Content)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
