package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/clippy-oss/homie/marketplace-chat/internal/api"
	"github.com/clippy-oss/homie/marketplace-chat/internal/domain"
)

func clampLimit(request mcp.CallToolRequest, def, max int) int {
	limit := request.GetInt("limit", def)
	if limit > max {
		limit = max
	}
	if limit <= 0 {
		limit = def
	}
	return limit
}

func requiredID(request mcp.CallToolRequest, name string) (int64, *mcp.CallToolResult) {
	id := request.GetInt(name, 0)
	if id <= 0 {
		return 0, mcp.NewToolResultError(name + " is required")
	}
	return int64(id), nil
}

func (s *Server) handleListChats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := clampLimit(request, 20, 100)

	chats := s.chatSvc.Chats()
	if len(chats) == 0 {
		return mcp.NewToolResultText("No chats found. Engage a job request to start one."), nil
	}
	if len(chats) > limit {
		chats = chats[:limit]
	}

	var result strings.Builder
	result.WriteString(fmt.Sprintf("Found %d chat(s):\n\n", len(chats)))
	if s.chatSvc.ReadOnly() {
		result.WriteString("(backend unreachable, served from the local cache)\n\n")
	}

	for i, chat := range chats {
		result.WriteString(fmt.Sprintf("%d. %s - %s\n", i+1, chat.CounterPartName, chat.JobRequestTitle))
		result.WriteString(fmt.Sprintf("   ID: %d\n", chat.ID))

		if chat.CounterPartBanned {
			result.WriteString("   Counterpart is banned\n")
		}
		if chat.NumberOfUnreadMessages > 0 {
			result.WriteString(fmt.Sprintf("   Unread: %d message(s)\n", chat.NumberOfUnreadMessages))
		}
		if chat.LastMessageOfCounterpart != "" {
			result.WriteString(fmt.Sprintf("   Last: %s\n", truncate(chat.LastMessageOfCounterpart, 60)))
			if chat.LastMessageOfCounterpartTime != nil {
				result.WriteString(fmt.Sprintf("   Time: %s\n", chat.LastMessageOfCounterpartTime.Format("2006-01-02 15:04")))
			}
		}
		result.WriteString("\n")
	}

	return mcp.NewToolResultText(result.String()), nil
}

func (s *Server) handleOpenChat(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	chatID, errResult := requiredID(request, "chat_id")
	if errResult != nil {
		return errResult, nil
	}

	messages, err := s.chatSvc.OpenChat(ctx, chatID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to open chat: %v", err)), nil
	}
	return mcp.NewToolResultText(s.formatMessages(chatID, messages)), nil
}

func (s *Server) handleGetMessages(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	chatID, errResult := requiredID(request, "chat_id")
	if errResult != nil {
		return errResult, nil
	}
	limit := clampLimit(request, 50, 200)

	var messages []domain.ChatMessage
	if s.chatSvc.ActiveChat() == chatID {
		live, err := s.chatSvc.Messages(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to get messages: %v", err)), nil
		}
		if len(live) > limit {
			live = live[len(live)-limit:]
		}
		messages = live
	} else {
		newest, err := s.msgSvc.GetMessages(ctx, chatID, limit, 0)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to get messages: %v", err)), nil
		}
		messages = make([]domain.ChatMessage, len(newest))
		for i, m := range newest {
			messages[len(newest)-1-i] = m
		}
	}

	return mcp.NewToolResultText(s.formatMessages(chatID, messages)), nil
}

func (s *Server) formatMessages(chatID int64, messages []domain.ChatMessage) string {
	if len(messages) == 0 {
		return fmt.Sprintf("No messages found in chat %d", chatID)
	}

	var result strings.Builder
	result.WriteString(fmt.Sprintf("Messages from chat %d (%d):\n\n", chatID, len(messages)))

	for _, msg := range messages {
		sender := msg.SenderUsername
		if msg.IsMine(s.chatSvc.Username()) {
			sender = "Me"
		}

		flags := ""
		if msg.Edited {
			flags += " [edited]"
		}
		if msg.Read {
			flags += " [read]"
		}

		result.WriteString(fmt.Sprintf("[%s] %s%s:\n", msg.Timestamp.Format("2006-01-02 15:04"), sender, flags))

		switch msg.MessageType {
		case domain.MessageTypeMedia:
			result.WriteString(fmt.Sprintf("  [Attachment: %s] %s\n", msg.MediaName, msg.MediaURL))
		default:
			result.WriteString(fmt.Sprintf("  %s\n", msg.Message))
		}

		result.WriteString(fmt.Sprintf("  ID: %d\n\n", msg.ID))
	}

	return result.String()
}

func (s *Server) handleSendMessage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	chatID, errResult := requiredID(request, "chat_id")
	if errResult != nil {
		return errResult, nil
	}

	text := request.GetString("text", "")
	if text == "" {
		return mcp.NewToolResultError("text is required"), nil
	}

	if s.chatSvc.ActiveChat() != chatID {
		if _, err := s.chatSvc.OpenChat(ctx, chatID); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to open chat: %v", err)), nil
		}
	}

	if err := s.chatSvc.SendMessage(text); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to send message: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Message sent to chat %d. It appears in the chat once the backend broadcasts it.", chatID)), nil
}

func (s *Server) handleEditMessage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	messageID, errResult := requiredID(request, "message_id")
	if errResult != nil {
		return errResult, nil
	}
	text := request.GetString("text", "")
	if text == "" {
		return mcp.NewToolResultError("text is required"), nil
	}

	if err := s.chatSvc.EditMessage(messageID, text); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to edit message: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Edit of message %d requested", messageID)), nil
}

func (s *Server) handleDeleteMessage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	messageID, errResult := requiredID(request, "message_id")
	if errResult != nil {
		return errResult, nil
	}

	if err := s.chatSvc.DeleteMessage(messageID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to delete message: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Deletion of message %d requested", messageID)), nil
}

func (s *Server) handleReportMessage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	messageID, errResult := requiredID(request, "message_id")
	if errResult != nil {
		return errResult, nil
	}
	reason := request.GetString("reason", "")
	if reason == "" {
		return mcp.NewToolResultError("reason is required"), nil
	}

	detail, err := s.chatSvc.ReportMessage(ctx, messageID, reason)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to report message: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Message %d reported (report %d)", messageID, detail.ID)), nil
}

func (s *Server) handleSearchMessages(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := request.GetString("query", "")
	if query == "" {
		return mcp.NewToolResultError("query is required"), nil
	}
	limit := clampLimit(request, 20, 100)

	hits, err := s.msgSvc.SearchMessages(ctx, query, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Search failed: %v", err)), nil
	}

	if len(hits) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No messages found matching '%s'", query)), nil
	}

	var result strings.Builder
	result.WriteString(fmt.Sprintf("Search results for '%s' (%d found):\n\n", query, len(hits)))

	for i, hit := range hits {
		msg := hit.Message
		sender := msg.SenderUsername
		if msg.IsMine(s.chatSvc.Username()) {
			sender = "Me"
		}

		result.WriteString(fmt.Sprintf("%d. [%s] %s:\n", i+1, msg.Timestamp.Format("2006-01-02 15:04"), sender))
		result.WriteString(fmt.Sprintf("   Chat: %d\n", hit.ChatID))
		result.WriteString(fmt.Sprintf("   %s\n", truncate(msg.Message, 100)))
		result.WriteString(fmt.Sprintf("   ID: %d\n\n", msg.ID))
	}

	return mcp.NewToolResultText(result.String()), nil
}

func (s *Server) handleEngageChat(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobRequestID, errResult := requiredID(request, "job_request_id")
	if errResult != nil {
		return errResult, nil
	}

	chatID, err := s.chatSvc.EngageChat(ctx, jobRequestID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Chat %d is ready for job request %d", chatID, jobRequestID)), nil
}

func (s *Server) handleDeleteChat(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	chatID, errResult := requiredID(request, "chat_id")
	if errResult != nil {
		return errResult, nil
	}

	if err := s.chatSvc.DeleteChat(ctx, chatID); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Chat %d deleted", chatID)), nil
}

func (s *Server) handleListReports(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var items []api.ReportListItem

	switch status := request.GetString("status", ""); status {
	case "":
		mine, err := s.chatSvc.MyReports(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to list reports: %v", err)), nil
		}
		items = mine
	case "open", "closed":
		page, err := s.chatSvc.SearchReports(ctx, api.ReportQuery{
			Open:     status == "open",
			Username: request.GetString("username", ""),
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to list reports: %v", err)), nil
		}
		items = page.Content
	default:
		return mcp.NewToolResultError("status must be 'open' or 'closed'"), nil
	}

	if len(items) == 0 {
		return mcp.NewToolResultText("No reports found"), nil
	}

	var result strings.Builder
	result.WriteString(fmt.Sprintf("Found %d report(s):\n\n", len(items)))
	for i, item := range items {
		state := "closed"
		if item.IsOpen {
			state = "open"
		}
		result.WriteString(fmt.Sprintf("%d. #%d %s report on %s (%s)\n", i+1, item.ID, item.Type, item.TargetUsername, state))
		result.WriteString(fmt.Sprintf("   Reason: %s\n\n", truncate(item.Reason, 100)))
	}
	return mcp.NewToolResultText(result.String()), nil
}

func (s *Server) handleConnectionStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	channels := s.chatSvc.LiveChannels()
	names := make([]string, len(channels))
	for i, ch := range channels {
		names[i] = ch.String()
	}

	return mcp.NewToolResultText(fmt.Sprintf("Chat Status: %s\nConnected: %v\nRead-only: %v\nUser: %s\nSubscriptions: %s",
		s.chatSvc.State(), s.chatSvc.IsConnected(), s.chatSvc.ReadOnly(), s.chatSvc.Username(), strings.Join(names, ", "))), nil
}

func (s *Server) handleConnect(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.chatSvc.Connect()
	return mcp.NewToolResultText("Connecting to the chat backend"), nil
}

func (s *Server) handleDisconnect(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.chatSvc.Disconnect()
	return mcp.NewToolResultText("Disconnected from the chat backend"), nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
