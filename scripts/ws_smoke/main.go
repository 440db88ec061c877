package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/chatline-server/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	token := flag.String("token", "", "access token (chatline token --user <id>)")
	chatID := flag.String("chat", "", "chat id to send to")
	recipient := flag.String("to", "", "recipient user id, used when -chat is empty")
	text := flag.String("text", "hello from smoke test", "message text to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	if *token == "" {
		return fmt.Errorf("-token is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, *addr+"?token="+*token, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	payload, err := json.Marshal(proto.SendMessageData{ChatID: *chatID, Recipient: *recipient, Content: *text})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	sent := false
	for {
		var outbound proto.Outbound
		if err := wsjson.Read(ctx, conn, &outbound); err != nil {
			return fmt.Errorf("read: %w", err)
		}

		fmt.Printf("Received outbound: type=%s", outbound.Type)
		if outbound.Event != "" {
			fmt.Printf(" event=%s", outbound.Event)
		}
		fmt.Println()

		if outbound.Error != nil {
			return fmt.Errorf("server error %s: %s", outbound.Error.Code, outbound.Error.Message)
		}

		raw, err := json.Marshal(outbound.Data)
		if err != nil {
			return fmt.Errorf("marshal outbound data: %w", err)
		}

		switch outbound.Event {
		case proto.EventReady:
			var ready proto.ReadyData
			if err := json.Unmarshal(raw, &ready); err == nil {
				fmt.Printf("Ready: user=%s chats=%v protocol=%d\n", ready.User, ready.Chats, ready.Protocol)
			}
			if !sent {
				if err := wsjson.Write(ctx, conn, proto.Inbound{Type: proto.InboundTypeSendMessage, Data: payload}); err != nil {
					return fmt.Errorf("send: %w", err)
				}
				sent = true
			}
		case proto.EventReceiveMessage:
			var msg proto.MessageData
			if err := json.Unmarshal(raw, &msg); err != nil {
				fmt.Printf("Raw data: %s\n", string(raw))
				return fmt.Errorf("unmarshal message: %w", err)
			}
			fmt.Printf("Message: chat=%s %s -> %s text=%q seq=%d\n", msg.ChatID, msg.Sender, msg.Recipient, msg.Content, msg.Seq)
			return nil
		default:
			// keep looping for our message
		}
	}
}
