package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/clippy-oss/homie/marketplace-chat/internal/domain"
)

// HeadlessCLI handles JSON-based headless operation
type HeadlessCLI struct {
	handler *CommandHandler
	reader  *bufio.Reader
	writer  io.Writer
	mu      sync.Mutex
}

// NewHeadlessCLI creates a new headless CLI
func NewHeadlessCLI(handler *CommandHandler) *HeadlessCLI {
	return NewHeadlessCLIWithIO(handler, os.Stdin, os.Stdout)
}

func NewHeadlessCLIWithIO(handler *CommandHandler, in io.Reader, out io.Writer) *HeadlessCLI {
	return &HeadlessCLI{
		handler: handler,
		reader:  bufio.NewReader(in),
		writer:  out,
	}
}

// Run starts the headless JSON processing loop
func (cli *HeadlessCLI) Run(ctx context.Context) error {
	cli.sendResponse(Response{
		Success: true,
		Data:    map[string]string{"status": "ready", "mode": "headless"},
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	eventChan := cli.handler.SubscribeEvents(ctx, []domain.EventType{
		domain.EventTypeMessageReceived,
		domain.EventTypeMessageEdited,
		domain.EventTypeMessageDeleted,
		domain.EventTypeMessagesRead,
		domain.EventTypeChatUpdated,
		domain.EventTypeChatRemoved,
		domain.EventTypeChatClosed,
		domain.EventTypeNotice,
		domain.EventTypeConnectionStatus,
	})

	go cli.streamEvents(eventChan)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			line, err := cli.reader.ReadString('\n')
			if err != nil {
				if err == io.EOF {
					return nil
				}
				cli.sendError("", fmt.Sprintf("read error: %v", err))
				continue
			}
			if strings.TrimSpace(line) == "" {
				continue
			}

			if quit := cli.processRequest(ctx, line); quit {
				return nil
			}
		}
	}
}

// processRequest answers one request line and reports whether the client asked to quit.
func (cli *HeadlessCLI) processRequest(ctx context.Context, line string) bool {
	var req Request
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		cli.sendError("", fmt.Sprintf("invalid JSON: %v", err))
		return false
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	if req.Command == "" {
		cli.sendError(req.ID, "missing command field")
		return false
	}

	switch req.Command {
	case "subscribe":
		cli.sendResponse(Response{
			ID:      req.ID,
			Success: true,
			Data:    map[string]string{"message": "subscribed to events"},
		})
		return false
	case "quit", "exit":
		cli.sendResponse(Response{
			ID:      req.ID,
			Success: true,
			Data:    map[string]string{"message": "goodbye"},
		})
		return true
	}

	cmd := &Command{
		Name: req.Command,
		Args: paramsToArgs(req.Command, req.Params),
	}

	result, err := cli.handler.Execute(ctx, cmd)
	if err != nil {
		cli.sendError(req.ID, err.Error())
		return false
	}

	cli.sendResponse(Response{
		ID:      req.ID,
		Success: true,
		Data:    result,
	})
	return false
}

// paramsToArgs flattens named JSON params into the positional arguments of a command.
func paramsToArgs(command string, params map[string]interface{}) []string {
	if params == nil {
		return nil
	}

	var args []string
	add := func(keys ...string) {
		for _, key := range keys {
			switch v := params[key].(type) {
			case string:
				if v != "" {
					args = append(args, v)
				}
			case float64:
				args = append(args, fmt.Sprintf("%d", int64(v)))
			case bool:
				if v {
					args = append(args, "open")
				} else {
					args = append(args, "closed")
				}
			}
		}
	}

	switch command {
	case "chats", "ls", "messages", "msg":
		add("limit")
	case "open", "o", "link", "delete-chat":
		add("chat_id")
	case "history":
		add("chat_id", "limit")
	case "send":
		add("text")
	case "edit":
		add("message_id", "text")
	case "delete", "rm":
		add("message_id")
	case "report":
		add("message_id", "reason")
	case "attach":
		add("path")
	case "media":
		add("media_url")
	case "engage":
		add("job_request_id")
	case "reports":
		add("open", "username")
	case "search":
		add("query", "limit")
	}

	return args
}

func (cli *HeadlessCLI) streamEvents(eventChan <-chan Event) {
	for event := range eventChan {
		cli.sendEvent(event)
	}
}

func (cli *HeadlessCLI) sendResponse(resp Response) {
	cli.mu.Lock()
	defer cli.mu.Unlock()

	data, _ := json.Marshal(resp)
	fmt.Fprintln(cli.writer, string(data))
}

func (cli *HeadlessCLI) sendError(id, message string) {
	cli.sendResponse(Response{
		ID:      id,
		Success: false,
		Error:   message,
	})
}

func (cli *HeadlessCLI) sendEvent(event Event) {
	cli.mu.Lock()
	defer cli.mu.Unlock()

	data, _ := json.Marshal(map[string]interface{}{
		"type":      "event",
		"event":     event.Type,
		"timestamp": event.Timestamp,
		"data":      event.Data,
	})
	fmt.Fprintln(cli.writer, string(data))
}
