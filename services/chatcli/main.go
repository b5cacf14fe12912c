package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/quizz-issima/realtime/internal/api"
	"github.com/quizz-issima/realtime/internal/chat"
	"github.com/quizz-issima/realtime/internal/config"
	"github.com/quizz-issima/realtime/internal/logger"
	"github.com/quizz-issima/realtime/internal/model"
	"github.com/quizz-issima/realtime/internal/realtime"
)

// chatcli — терминальный клиент: живая лента одной беседы поверх
// push-подписки с polling-фолбэком. Сообщения читаются со stdin.
func main() {
	logger.SetPrefix("chatcli")
	cfg := config.Load()

	userID := flag.String("user", "", "user id (required)")
	userName := flag.String("name", "", "display name")
	conversationID := flag.String("conversation", "", "conversation id; empty creates a new one with -with")
	with := flag.String("with", "", "comma-separated participant ids for a new conversation")
	apiURL := flag.String("api", cfg.APIBaseURL, "backend base url")
	pushEndpoint := flag.String("push", cfg.Push.Endpoint, "push endpoint (ws://host/ws); empty means polling-only")
	pushKey := flag.String("key", cfg.Push.Key, "push app key")
	flag.Parse()

	if *userID == "" {
		fmt.Fprintln(os.Stderr, "usage: chatcli -user <id> [-name <name>] -conversation <id> | -with <id,id>")
		os.Exit(2)
	}
	if *userName == "" {
		*userName = *userID
	}

	client := api.NewClient(*apiURL, api.Identity{UserID: *userID, UserName: *userName})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	convID := *conversationID
	if convID == "" {
		if *with == "" {
			fmt.Fprintln(os.Stderr, "either -conversation or -with is required")
			os.Exit(2)
		}
		participants := strings.Split(*with, ",")
		conv, err := client.CreateConversation(ctx, participants)
		if err != nil {
			logger.Errorf("create conversation: %v", err)
			os.Exit(1)
		}
		convID = conv.ID
		fmt.Printf("conversation created: %s\n", convID)
	}

	conn := realtime.New(realtime.Options{
		Endpoint: *pushEndpoint,
		Key:      *pushKey,
		Cluster:  cfg.Push.Cluster,
	})
	conn.OnError(func(err error) {
		fmt.Printf("! push unavailable, polling keeps the chat alive (%v)\n", err)
	})
	if err := conn.Connect(ctx); err != nil {
		// Не фатально: сессия живёт на polling.
		logger.Errorf("push connect: %v", err)
	}
	defer conn.Disconnect()

	self := model.Sender{ID: *userID, Name: *userName}
	session := chat.NewSession(conn, client, self, convID, chat.SessionOptions{
		PollInterval: cfg.PollInterval,
		OnUpdate:     func() {},
	})
	if err := session.Start(ctx); err != nil {
		logger.Errorf("session start: %v", err)
		os.Exit(1)
	}
	defer session.Close()

	render(session.Messages(), *userID)
	if err := session.MarkRead(ctx); err != nil {
		logger.Errorf("mark read: %v", err)
	}

	// Перерисовка по таймеру, а не из OnUpdate: конкурирующие записи в
	// терминал из push/poll горутин перемешивали бы вывод.
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		last := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				msgs := session.Messages()
				if len(msgs) != last {
					last = len(msgs)
					render(msgs, *userID)
				}
			}
		}
	}()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		cancel()
	}()

	fmt.Println("type a message and press enter (/quit to exit)")
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			break
		}
		if _, err := session.Send(ctx, line); err != nil {
			fmt.Printf("! message not sent: %v\n", err)
		}
	}
}

func render(msgs []model.Message, selfID string) {
	fmt.Println("----------------------------------------")
	for _, m := range msgs {
		mark := " "
		switch {
		case m.Delivery == model.DeliveryPending:
			mark = "…"
		case m.Sender.ID == selfID && len(m.ReadBy) > 1:
			mark = "✓"
		}
		name := m.Sender.Name
		if name == "" {
			name = m.Sender.ID
		}
		fmt.Printf("[%s] %s %s: %s\n", m.CreatedAt.Local().Format("15:04:05"), mark, name, m.Content)
	}
	fmt.Println("----------------------------------------")
}
