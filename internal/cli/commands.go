package cli

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/skip2/go-qrcode"

	"github.com/clippy-oss/homie/marketplace-chat/internal/api"
	"github.com/clippy-oss/homie/marketplace-chat/internal/domain"
	"github.com/clippy-oss/homie/marketplace-chat/internal/media"
	"github.com/clippy-oss/homie/marketplace-chat/internal/service"
)

// errQuit ends the interactive loop.
var errQuit = errors.New("quit")

type HandlerConfig struct {
	// WebURL is the web client base used to build chat links.
	WebURL string
}

// CommandHandler handles CLI commands
type CommandHandler struct {
	chatSvc  *service.ChatService
	msgSvc   *service.MessageService
	eventBus domain.EventBus
	config   HandlerConfig
}

// NewCommandHandler creates a new command handler
func NewCommandHandler(
	chatSvc *service.ChatService,
	msgSvc *service.MessageService,
	eventBus domain.EventBus,
	config HandlerConfig,
) *CommandHandler {
	return &CommandHandler{
		chatSvc:  chatSvc,
		msgSvc:   msgSvc,
		eventBus: eventBus,
		config:   config,
	}
}

// Command represents a parsed command
type Command struct {
	Name string
	Args []string
}

// ParseCommand parses a command string (e.g., "/send Hello there")
func ParseCommand(input string) (*Command, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, fmt.Errorf("empty command")
	}

	if !strings.HasPrefix(input, "/") {
		return nil, fmt.Errorf("commands must start with /")
	}

	parts := strings.Fields(input)
	name := strings.TrimPrefix(parts[0], "/")
	if name == "" {
		return nil, fmt.Errorf("empty command")
	}

	return &Command{Name: name, Args: parts[1:]}, nil
}

// Execute executes a command and returns the result
func (h *CommandHandler) Execute(ctx context.Context, cmd *Command) (interface{}, error) {
	switch cmd.Name {
	case "help", "h":
		return h.cmdHelp()
	case "status", "s":
		return h.cmdStatus()
	case "connect", "c":
		return h.cmdConnect()
	case "disconnect", "d":
		return h.cmdDisconnect()
	case "chats", "ls":
		return h.cmdChats(ctx, cmd.Args)
	case "refresh":
		return h.cmdRefresh(ctx)
	case "open", "o":
		return h.cmdOpen(ctx, cmd.Args)
	case "close":
		return h.cmdClose()
	case "messages", "msg":
		return h.cmdMessages(ctx, cmd.Args)
	case "history":
		return h.cmdHistory(ctx, cmd.Args)
	case "send":
		return h.cmdSend(cmd.Args)
	case "edit":
		return h.cmdEdit(cmd.Args)
	case "delete", "rm":
		return h.cmdDelete(cmd.Args)
	case "report":
		return h.cmdReport(ctx, cmd.Args)
	case "attach":
		return h.cmdAttach(cmd.Args)
	case "confirm":
		return h.cmdConfirm(ctx)
	case "cancel":
		return h.cmdCancel()
	case "media":
		return h.cmdMedia(ctx, cmd.Args)
	case "engage":
		return h.cmdEngage(ctx, cmd.Args)
	case "delete-chat":
		return h.cmdDeleteChat(ctx, cmd.Args)
	case "reports":
		return h.cmdReports(ctx, cmd.Args)
	case "search":
		return h.cmdSearch(ctx, cmd.Args)
	case "link":
		return h.cmdLink(cmd.Args)
	case "quit", "exit", "q":
		return map[string]bool{"quit": true}, nil
	default:
		return nil, fmt.Errorf("unknown command: %s. Type /help for available commands", cmd.Name)
	}
}

func (h *CommandHandler) cmdHelp() (interface{}, error) {
	help := `Available commands:

Connection:
  /status, /s              Show connection status
  /connect, /c             Connect to the chat backend
  /disconnect, /d          Disconnect from the chat backend

Chats:
  /chats, /ls [limit]      List chats, most recent first
  /refresh                 Reload the chat list
  /open, /o <chat_id>      Open a chat
  /close                   Close the open chat
  /engage <job_request_id> Start the chat about a job request
  /delete-chat <chat_id>   Delete a chat
  /link <chat_id>          Show a QR code linking to a chat

Messages (open chat):
  /messages, /msg [limit]  Show messages of the open chat
  /send <text>             Send a message
  /edit <msg_id> <text>    Edit one of your messages
  /delete, /rm <msg_id>    Delete one of your messages
  /report <msg_id> <reason>  Report a message
  /attach <path>           Stage an image or PDF
  /confirm                 Upload and send the staged file
  /cancel                  Drop the staged file
  /media <media_url>       Download an attachment

Cache:
  /history <chat_id> [limit]  Show cached messages of any chat
  /search <query> [limit]  Search cached messages

Reports:
  /reports [open|closed] [username]  My reports, or the moderation listing

Other:
  /help, /h                Show this help
  /quit, /exit, /q         Exit the CLI`

	return map[string]string{"help": help}, nil
}

func (h *CommandHandler) cmdStatus() (interface{}, error) {
	channels := h.chatSvc.LiveChannels()
	names := make([]string, len(channels))
	for i, ch := range channels {
		names[i] = ch.String()
	}

	status := h.chatSvc.State().String()
	if h.chatSvc.ReadOnly() {
		status += " (read-only)"
	}

	return ConnectionStatus{
		Connected:  h.chatSvc.IsConnected(),
		Status:     status,
		Username:   h.chatSvc.Username(),
		ReadOnly:   h.chatSvc.ReadOnly(),
		ActiveChat: h.chatSvc.ActiveChat(),
		Channels:   names,
	}, nil
}

func (h *CommandHandler) cmdConnect() (interface{}, error) {
	h.chatSvc.Connect()
	return map[string]string{"message": "Connecting to the chat backend"}, nil
}

func (h *CommandHandler) cmdDisconnect() (interface{}, error) {
	h.chatSvc.Disconnect()
	return map[string]string{"message": "Disconnected from the chat backend"}, nil
}

func (h *CommandHandler) cmdChats(ctx context.Context, args []string) (interface{}, error) {
	limit := optionalInt(args, 0, 20)

	chats := h.chatSvc.Chats()
	if len(chats) > limit {
		chats = chats[:limit]
	}

	active := h.chatSvc.ActiveChat()
	result := make([]ChatInfo, len(chats))
	for i := range chats {
		result[i] = toChatInfo(&chats[i], active)
	}

	return map[string]interface{}{"chats": result, "count": len(result)}, nil
}

func (h *CommandHandler) cmdRefresh(ctx context.Context) (interface{}, error) {
	chats, err := h.chatSvc.LoadChats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load chats: %w", err)
	}
	return map[string]interface{}{
		"message":   fmt.Sprintf("Loaded %d chat(s)", len(chats)),
		"read_only": h.chatSvc.ReadOnly(),
	}, nil
}

func (h *CommandHandler) cmdOpen(ctx context.Context, args []string) (interface{}, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("usage: /open <chat_id>")
	}
	chatID, err := parseID(args[0])
	if err != nil {
		return nil, err
	}

	messages, err := h.chatSvc.OpenChat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to open chat: %w", err)
	}

	result := map[string]interface{}{
		"chat_id":  chatID,
		"messages": h.toMessageInfos(chatID, messages),
		"count":    len(messages),
	}
	if chat, ok := h.chatSvc.Chat(chatID); ok {
		result["chat"] = toChatInfo(&chat, chatID)
	}
	return result, nil
}

func (h *CommandHandler) cmdClose() (interface{}, error) {
	if err := h.chatSvc.CloseChat(); err != nil {
		return nil, fmt.Errorf("failed to close chat: %w", err)
	}
	return map[string]string{"message": "Chat closed"}, nil
}

func (h *CommandHandler) cmdMessages(ctx context.Context, args []string) (interface{}, error) {
	limit := optionalInt(args, 0, 50)

	messages, err := h.chatSvc.Messages(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	if len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}

	chatID := h.chatSvc.ActiveChat()
	result := h.toMessageInfos(chatID, messages)
	return map[string]interface{}{"messages": result, "count": len(result)}, nil
}

func (h *CommandHandler) cmdHistory(ctx context.Context, args []string) (interface{}, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("usage: /history <chat_id> [limit]")
	}
	chatID, err := parseID(args[0])
	if err != nil {
		return nil, err
	}
	limit := optionalInt(args, 1, 50)

	messages, err := h.msgSvc.GetMessages(ctx, chatID, limit, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}

	result := h.toMessageInfos(chatID, messages)
	return map[string]interface{}{"messages": result, "count": len(result)}, nil
}

func (h *CommandHandler) cmdSend(args []string) (interface{}, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("usage: /send <text>")
	}

	if err := h.chatSvc.SendMessage(strings.Join(args, " ")); err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}
	return map[string]string{"message": "Message sent"}, nil
}

func (h *CommandHandler) cmdEdit(args []string) (interface{}, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("usage: /edit <message_id> <text>")
	}
	messageID, err := parseID(args[0])
	if err != nil {
		return nil, err
	}

	if err := h.chatSvc.EditMessage(messageID, strings.Join(args[1:], " ")); err != nil {
		return nil, fmt.Errorf("failed to edit message: %w", err)
	}
	return map[string]string{"message": "Edit requested"}, nil
}

func (h *CommandHandler) cmdDelete(args []string) (interface{}, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("usage: /delete <message_id>")
	}
	messageID, err := parseID(args[0])
	if err != nil {
		return nil, err
	}

	if err := h.chatSvc.DeleteMessage(messageID); err != nil {
		return nil, fmt.Errorf("failed to delete message: %w", err)
	}
	return map[string]string{"message": "Delete requested"}, nil
}

func (h *CommandHandler) cmdReport(ctx context.Context, args []string) (interface{}, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("usage: /report <message_id> <reason>")
	}
	messageID, err := parseID(args[0])
	if err != nil {
		return nil, err
	}

	detail, err := h.chatSvc.ReportMessage(ctx, messageID, strings.Join(args[1:], " "))
	if err != nil {
		return nil, fmt.Errorf("failed to report message: %w", err)
	}
	return toReportInfo(detail.ReportListItem), nil
}

func (h *CommandHandler) cmdAttach(args []string) (interface{}, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("usage: /attach <path>")
	}
	path := strings.Join(args, " ")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	name := filepath.Base(path)
	contentType := mime.TypeByExtension(filepath.Ext(name))
	preview, err := h.chatSvc.AttachFile(name, contentType, data)
	if err != nil {
		return nil, fmt.Errorf("failed to attach file: %w", err)
	}
	return toPreviewInfo(preview), nil
}

func (h *CommandHandler) cmdConfirm(ctx context.Context) (interface{}, error) {
	image, err := h.chatSvc.ConfirmAttachment(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to send attachment: %w", err)
	}
	return map[string]string{
		"message":    "Attachment sent",
		"media_name": image.MediaName,
		"media_url":  image.MediaURL,
	}, nil
}

func (h *CommandHandler) cmdCancel() (interface{}, error) {
	h.chatSvc.CancelAttachment()
	return map[string]string{"message": "Attachment dropped"}, nil
}

func (h *CommandHandler) cmdMedia(ctx context.Context, args []string) (interface{}, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("usage: /media <media_url>")
	}

	path, err := h.chatSvc.MediaFile(ctx, args[0])
	if err != nil {
		return nil, fmt.Errorf("failed to download media: %w", err)
	}
	return map[string]string{"message": "Saved to " + path, "path": path}, nil
}

func (h *CommandHandler) cmdEngage(ctx context.Context, args []string) (interface{}, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("usage: /engage <job_request_id>")
	}
	jobRequestID, err := parseID(args[0])
	if err != nil {
		return nil, err
	}

	chatID, err := h.chatSvc.EngageChat(ctx, jobRequestID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"message": fmt.Sprintf("Chat %d ready", chatID),
		"chat_id": chatID,
	}, nil
}

func (h *CommandHandler) cmdDeleteChat(ctx context.Context, args []string) (interface{}, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("usage: /delete-chat <chat_id>")
	}
	chatID, err := parseID(args[0])
	if err != nil {
		return nil, err
	}

	if err := h.chatSvc.DeleteChat(ctx, chatID); err != nil {
		return nil, err
	}
	return map[string]string{"message": "Chat deleted"}, nil
}

func (h *CommandHandler) cmdReports(ctx context.Context, args []string) (interface{}, error) {
	if len(args) == 0 {
		items, err := h.chatSvc.MyReports(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list reports: %w", err)
		}
		return map[string]interface{}{"reports": toReportInfos(items), "count": len(items)}, nil
	}

	q := api.ReportQuery{}
	switch args[0] {
	case "open":
		q.Open = true
	case "closed":
	default:
		return nil, fmt.Errorf("usage: /reports [open|closed] [username]")
	}
	if len(args) > 1 {
		q.Username = args[1]
	}

	page, err := h.chatSvc.SearchReports(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	return map[string]interface{}{
		"reports": toReportInfos(page.Content),
		"count":   len(page.Content),
		"total":   page.TotalElements,
	}, nil
}

func (h *CommandHandler) cmdSearch(ctx context.Context, args []string) (interface{}, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("usage: /search <query> [limit]")
	}

	query := strings.Join(args, " ")
	limit := 20

	// Check if last arg is a number (limit)
	if len(args) > 1 {
		if l, err := strconv.Atoi(args[len(args)-1]); err == nil && l > 0 {
			limit = l
			query = strings.Join(args[:len(args)-1], " ")
		}
	}

	hits, err := h.msgSvc.SearchMessages(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	result := make([]MessageInfo, len(hits))
	for i := range hits {
		result[i] = h.toMessageInfo(hits[i].ChatID, &hits[i].Message)
	}

	return map[string]interface{}{
		"query":    query,
		"messages": result,
		"count":    len(result),
	}, nil
}

func (h *CommandHandler) cmdLink(args []string) (interface{}, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("usage: /link <chat_id>")
	}
	chatID, err := parseID(args[0])
	if err != nil {
		return nil, err
	}
	return ChatLink(h.config.WebURL, chatID)
}

// ChatLink builds the web client link of a chat and renders it as a terminal QR code.
func ChatLink(webURL string, chatID int64) (LinkInfo, error) {
	link := fmt.Sprintf("%s/chats/%d", strings.TrimSuffix(webURL, "/"), chatID)
	qr, err := qrcode.New(link, qrcode.Medium)
	if err != nil {
		return LinkInfo{}, fmt.Errorf("failed to encode link: %w", err)
	}
	return LinkInfo{ChatID: chatID, URL: link, QRCode: qr.ToSmallString(false)}, nil
}

// SubscribeEvents forwards domain events as CLI events until ctx ends.
func (h *CommandHandler) SubscribeEvents(ctx context.Context, eventTypes []domain.EventType) <-chan Event {
	if len(eventTypes) == 0 {
		eventTypes = []domain.EventType{
			domain.EventTypeMessageReceived,
			domain.EventTypeConnectionStatus,
			domain.EventTypeNotice,
		}
	}

	domainChan := h.eventBus.Subscribe(eventTypes)
	resultChan := make(chan Event)

	go func() {
		defer close(resultChan)
		defer h.eventBus.Unsubscribe(domainChan)
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-domainChan:
				if !ok {
					return
				}
				event, ok := h.toEvent(evt)
				if !ok {
					continue
				}
				select {
				case resultChan <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return resultChan
}

func (h *CommandHandler) toEvent(evt domain.Event) (Event, bool) {
	var eventType string
	var data interface{}

	switch e := evt.(type) {
	case domain.MessageReceivedEvent:
		eventType = "message_received"
		data = h.toMessageInfo(e.ChatID, e.Message)
	case domain.MessageEditedEvent:
		eventType = "message_edited"
		data = map[string]interface{}{"chat_id": e.ChatID, "message_id": e.MessageID, "text": e.NewMessage}
	case domain.MessageDeletedEvent:
		eventType = "message_deleted"
		data = map[string]interface{}{"chat_id": e.ChatID, "message_id": e.MessageID}
	case domain.MessagesReadEvent:
		eventType = "messages_read"
		data = map[string]interface{}{"chat_id": e.ChatID, "reader": e.Reader}
	case domain.ChatUpdatedEvent:
		eventType = "chat_updated"
		data = toChatInfo(e.Chat, h.chatSvc.ActiveChat())
	case domain.ChatRemovedEvent:
		eventType = "chat_removed"
		data = map[string]interface{}{"chat_id": e.ChatID, "by_counterpart": e.ByCounterpart}
	case domain.ChatClosedEvent:
		eventType = "chat_closed"
		data = map[string]interface{}{"chat_id": e.ChatID, "reason": e.Reason}
	case domain.NoticeEvent:
		eventType = "notice"
		data = map[string]interface{}{"level": string(e.Level), "chat_id": e.ChatID, "text": e.Text}
	case domain.ConnectionStatusEvent:
		eventType = "connection_status"
		data = map[string]interface{}{
			"state":     e.State,
			"connected": e.Connected,
			"attempt":   e.Attempt,
			"reason":    e.Reason,
		}
	default:
		return Event{}, false
	}

	timestamp := evt.Timestamp()
	if timestamp.IsZero() {
		timestamp = time.Now()
	}
	return Event{Type: eventType, Timestamp: timestamp, Data: data}, true
}

func (h *CommandHandler) toMessageInfos(chatID int64, messages []domain.ChatMessage) []MessageInfo {
	result := make([]MessageInfo, len(messages))
	for i := range messages {
		result[i] = h.toMessageInfo(chatID, &messages[i])
	}
	return result
}

func (h *CommandHandler) toMessageInfo(chatID int64, msg *domain.ChatMessage) MessageInfo {
	return MessageInfo{
		ID:        msg.ID,
		ChatID:    chatID,
		Sender:    msg.SenderUsername,
		Type:      string(msg.MessageType),
		Text:      msg.Message,
		MediaName: msg.MediaName,
		MediaURL:  msg.MediaURL,
		Timestamp: msg.Timestamp,
		IsFromMe:  msg.IsMine(h.chatSvc.Username()),
		IsRead:    msg.Read,
		IsEdited:  msg.Edited,
	}
}

func toChatInfo(chat *domain.Chat, active int64) ChatInfo {
	return ChatInfo{
		ID:                chat.ID,
		JobRequestID:      chat.JobRequestID,
		JobRequestTitle:   chat.JobRequestTitle,
		CounterPart:       chat.CounterPartName,
		CounterPartBanned: chat.CounterPartBanned,
		UnreadCount:       chat.NumberOfUnreadMessages,
		LastMessageText:   chat.LastMessageOfCounterpart,
		LastMessageTime:   chat.LastMessageOfCounterpartTime,
		Active:            chat.ID == active,
	}
}

func toPreviewInfo(p *media.Preview) PreviewInfo {
	return PreviewInfo{
		Name:        p.Name,
		ContentType: p.ContentType,
		Kind:        string(p.Kind),
		Size:        p.Size(),
		Width:       p.Width,
		Height:      p.Height,
	}
}

func toReportInfo(item api.ReportListItem) ReportInfo {
	return ReportInfo{
		ID:        item.ID,
		Reporter:  item.ReporterUsername,
		Target:    item.TargetUsername,
		Type:      string(item.Type),
		Reason:    item.Reason,
		Open:      item.IsOpen,
		CreatedAt: item.ReportedAt,
	}
}

func toReportInfos(items []api.ReportListItem) []ReportInfo {
	result := make([]ReportInfo, len(items))
	for i, item := range items {
		result[i] = toReportInfo(item)
	}
	return result
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id: %s", s)
	}
	return id, nil
}

// optionalInt reads a positive integer at args[i], or returns def.
func optionalInt(args []string, i, def int) int {
	if len(args) > i {
		if n, err := strconv.Atoi(args[i]); err == nil && n > 0 {
			return n
		}
	}
	return def
}
