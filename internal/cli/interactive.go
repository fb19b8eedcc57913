package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/clippy-oss/homie/marketplace-chat/internal/domain"
)

// InteractiveCLI handles interactive command-line interface
type InteractiveCLI struct {
	handler *CommandHandler
	reader  *bufio.Reader
	writer  io.Writer
	mu      sync.Mutex
}

// NewInteractiveCLI creates a new interactive CLI
func NewInteractiveCLI(handler *CommandHandler) *InteractiveCLI {
	return NewInteractiveCLIWithIO(handler, os.Stdin, os.Stdout)
}

func NewInteractiveCLIWithIO(handler *CommandHandler, in io.Reader, out io.Writer) *InteractiveCLI {
	return &InteractiveCLI{
		handler: handler,
		reader:  bufio.NewReader(in),
		writer:  out,
	}
}

// Run starts the interactive CLI loop
func (cli *InteractiveCLI) Run(ctx context.Context) error {
	cli.printWelcome()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	eventChan := cli.handler.SubscribeEvents(ctx, []domain.EventType{
		domain.EventTypeMessageReceived,
		domain.EventTypeMessageEdited,
		domain.EventTypeMessageDeleted,
		domain.EventTypeChatClosed,
		domain.EventTypeNotice,
		domain.EventTypeConnectionStatus,
	})

	go cli.handleEvents(eventChan)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			cli.print("\n> ")
			line, err := cli.reader.ReadString('\n')
			if err != nil {
				if err == io.EOF {
					return nil
				}
				return err
			}

			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}

			if err := cli.processCommand(ctx, line); err != nil {
				if errors.Is(err, errQuit) {
					cli.println("Goodbye!")
					return nil
				}
				cli.printf("Error: %s\n", err)
			}
		}
	}
}

func (cli *InteractiveCLI) printWelcome() {
	cli.println("===========================================")
	cli.println("  Marketplace Chat CLI")
	cli.println("===========================================")
	cli.println("Type /help for available commands")
	cli.println("")

	status, _ := cli.handler.cmdStatus()
	if s, ok := status.(ConnectionStatus); ok {
		cli.printf("Signed in as %s, %s\n", s.Username, s.Status)
	}
}

func (cli *InteractiveCLI) processCommand(ctx context.Context, input string) error {
	// Plain text is sent to the open chat.
	if !strings.HasPrefix(input, "/") {
		input = "/send " + input
	}

	cmd, err := ParseCommand(input)
	if err != nil {
		return err
	}

	result, err := cli.handler.Execute(ctx, cmd)
	if err != nil {
		return err
	}

	if m, ok := result.(map[string]bool); ok && m["quit"] {
		return errQuit
	}

	cli.displayResult(cmd.Name, result)
	return nil
}

func (cli *InteractiveCLI) displayResult(cmdName string, result interface{}) {
	switch cmdName {
	case "help", "h":
		if m, ok := result.(map[string]string); ok {
			cli.println(m["help"])
		}

	case "status", "s":
		if s, ok := result.(ConnectionStatus); ok {
			cli.printf("Connection Status: %s\n", s.Status)
			cli.printf("  User: %s\n", s.Username)
			if s.ActiveChat != 0 {
				cli.printf("  Open chat: %d\n", s.ActiveChat)
			}
			for _, ch := range s.Channels {
				cli.printf("  Subscribed: %s\n", ch)
			}
		}

	case "chats", "ls":
		if m, ok := result.(map[string]interface{}); ok {
			chats, _ := m["chats"].([]ChatInfo)
			cli.printf("Found %d chat(s):\n\n", len(chats))
			for _, chat := range chats {
				cli.printChat(chat)
			}
		}

	case "open", "o", "messages", "msg", "history":
		if m, ok := result.(map[string]interface{}); ok {
			if chat, ok := m["chat"].(ChatInfo); ok {
				cli.printChat(chat)
				if chat.CounterPartBanned {
					cli.println("   This user is banned, sending is disabled")
				}
				cli.println("")
			}
			messages, _ := m["messages"].([]MessageInfo)
			for _, msg := range messages {
				cli.printMessage(msg)
			}
			if len(messages) == 0 {
				cli.println("No messages yet")
			}
		}

	case "search":
		if m, ok := result.(map[string]interface{}); ok {
			query, _ := m["query"].(string)
			messages, _ := m["messages"].([]MessageInfo)
			cli.printf("Search results for '%s' (%d found):\n\n", query, len(messages))
			for i, msg := range messages {
				cli.printf("%d. [%s] %s: %s\n", i+1, msg.Timestamp.Format("2006-01-02 15:04"), msg.Sender, truncate(msg.Text, 80))
				cli.printf("   Chat: %d | ID: %d\n\n", msg.ChatID, msg.ID)
			}
		}

	case "attach":
		if p, ok := result.(PreviewInfo); ok {
			cli.printf("Staged %s (%s, %d bytes)", p.Name, p.Kind, p.Size)
			if p.Width > 0 {
				cli.printf(", %dx%d", p.Width, p.Height)
			}
			cli.println("\nType /confirm to send or /cancel to drop it")
		}

	case "link":
		if l, ok := result.(LinkInfo); ok {
			cli.println(l.QRCode)
			cli.println(l.URL)
		}

	default:
		if m, ok := result.(map[string]string); ok {
			if msg, exists := m["message"]; exists {
				cli.println(msg)
				return
			}
		}
		if m, ok := result.(map[string]interface{}); ok {
			if msg, exists := m["message"].(string); exists {
				cli.println(msg)
				return
			}
		}
		data, _ := json.MarshalIndent(result, "", "  ")
		cli.println(string(data))
	}
}

func (cli *InteractiveCLI) printChat(chat ChatInfo) {
	marker := " "
	if chat.Active {
		marker = "*"
	}
	unread := ""
	if chat.UnreadCount > 0 {
		unread = fmt.Sprintf(" [%d unread]", chat.UnreadCount)
	}
	cli.printf("%s %d. %s - %s%s\n", marker, chat.ID, chat.CounterPart, chat.JobRequestTitle, unread)
	if chat.LastMessageText != "" {
		cli.printf("   Last: %s\n", truncate(chat.LastMessageText, 50))
	}
}

func (cli *InteractiveCLI) printMessage(msg MessageInfo) {
	sender := msg.Sender
	if msg.IsFromMe {
		sender = "Me"
	}
	flags := ""
	if msg.IsEdited {
		flags += " (edited)"
	}
	if msg.IsFromMe && msg.IsRead {
		flags += " (read)"
	}
	cli.printf("[%s] #%d %s%s:\n", msg.Timestamp.Format("2006-01-02 15:04"), msg.ID, sender, flags)
	if msg.Type == string(domain.MessageTypeMedia) {
		cli.printf("  [%s] %s\n", msg.MediaName, msg.MediaURL)
		return
	}
	cli.printf("  %s\n", msg.Text)
}

func (cli *InteractiveCLI) handleEvents(eventChan <-chan Event) {
	for event := range eventChan {
		switch event.Type {
		case "message_received":
			if msg, ok := event.Data.(MessageInfo); ok {
				cli.print("\n")
				cli.printMessage(msg)
				cli.print("> ")
			}
		case "message_edited", "message_deleted":
			if data, ok := event.Data.(map[string]interface{}); ok {
				cli.printf("\n[Message %v %s]\n> ", data["message_id"], strings.TrimPrefix(event.Type, "message_"))
			}
		case "notice", "chat_closed":
			if data, ok := event.Data.(map[string]interface{}); ok {
				text, _ := data["text"].(string)
				if text == "" {
					text, _ = data["reason"].(string)
				}
				cli.printf("\n[%s] %s\n> ", event.Type, text)
			}
		case "connection_status":
			if data, ok := event.Data.(map[string]interface{}); ok {
				state, _ := data["state"].(string)
				reason, _ := data["reason"].(string)
				if reason != "" {
					cli.printf("\n[%s: %s]\n> ", state, reason)
				} else {
					cli.printf("\n[%s]\n> ", state)
				}
			}
		}
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func (cli *InteractiveCLI) print(s string) {
	cli.mu.Lock()
	defer cli.mu.Unlock()
	fmt.Fprint(cli.writer, s)
}

func (cli *InteractiveCLI) println(s string) {
	cli.mu.Lock()
	defer cli.mu.Unlock()
	fmt.Fprintln(cli.writer, s)
}

func (cli *InteractiveCLI) printf(format string, args ...interface{}) {
	cli.mu.Lock()
	defer cli.mu.Unlock()
	fmt.Fprintf(cli.writer, format, args...)
}
