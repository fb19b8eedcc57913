package mcp

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clippy-oss/homie/marketplace-chat/internal/api"
	"github.com/clippy-oss/homie/marketplace-chat/internal/domain"
	"github.com/clippy-oss/homie/marketplace-chat/internal/service/servicetest"
)

func newTestServer(t *testing.T) (*Server, *servicetest.Fixture) {
	t.Helper()
	backend := servicetest.NewBackend(
		domain.Chat{ID: 1, CounterPartName: "bob", JobRequestTitle: "Fix roof", NumberOfUnreadMessages: 2},
		domain.Chat{ID: 2, CounterPartName: "carol", JobRequestTitle: "Paint fence", CounterPartBanned: true},
	)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	backend.History[1] = []domain.ChatMessage{
		{ID: 11, SenderUsername: servicetest.Username, MessageType: domain.MessageTypeText, Message: "on my way", Timestamp: now.Add(time.Minute)},
		{ID: 10, SenderUsername: "bob", MessageType: domain.MessageTypeText, Message: "roof leaks", Timestamp: now},
	}
	backend.Reports = []api.ReportListItem{
		{ID: 5, Type: api.ReportTypeMessage, TargetUsername: "bob", Reason: "spam", IsOpen: true},
		{ID: 6, Type: api.ReportTypeMessage, TargetUsername: "dave", Reason: "rude", IsOpen: false},
	}
	f := servicetest.New(t, backend)
	return NewServer(f.Service, f.Messages, ServerConfig{}), f
}

func call(t *testing.T, handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]interface{}) (string, bool) {
	t.Helper()
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	result, err := handler(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text, result.IsError
}

func TestListChats(t *testing.T) {
	s, _ := newTestServer(t)

	text, isErr := call(t, s.handleListChats, nil)
	assert.False(t, isErr)
	assert.Contains(t, text, "Found 2 chat(s)")
	assert.Contains(t, text, "bob - Fix roof")
	assert.Contains(t, text, "Unread: 2")
	assert.Contains(t, text, "Counterpart is banned")

	text, _ = call(t, s.handleListChats, map[string]interface{}{"limit": float64(1)})
	assert.Contains(t, text, "Found 1 chat(s)")
}

func TestOpenChatAndGetMessages(t *testing.T) {
	s, f := newTestServer(t)

	text, isErr := call(t, s.handleOpenChat, map[string]interface{}{"chat_id": float64(1)})
	require.False(t, isErr, text)
	assert.Contains(t, text, "Messages from chat 1 (2)")
	assert.Less(t, strings.Index(text, "roof leaks"), strings.Index(text, "on my way"))
	assert.Contains(t, text, "Me:")
	assert.Equal(t, int64(1), f.Service.ActiveChat())

	text, isErr = call(t, s.handleGetMessages, map[string]interface{}{"chat_id": float64(1), "limit": float64(1)})
	require.False(t, isErr)
	assert.Contains(t, text, "on my way")
	assert.NotContains(t, text, "roof leaks")

	text, _ = call(t, s.handleOpenChat, map[string]interface{}{})
	assert.Contains(t, text, "chat_id is required")
}

func TestSendMessageErrors(t *testing.T) {
	s, f := newTestServer(t)

	text, isErr := call(t, s.handleSendMessage, map[string]interface{}{"chat_id": float64(2), "text": "hi"})
	assert.True(t, isErr)
	assert.Contains(t, text, domain.ErrCounterpartBanned.Error())

	text, isErr = call(t, s.handleSendMessage, map[string]interface{}{"chat_id": float64(1), "text": "hi"})
	assert.True(t, isErr)
	assert.Contains(t, text, "not connected")

	f.Conn.Accept()
	text, isErr = call(t, s.handleSendMessage, map[string]interface{}{"chat_id": float64(1), "text": "hi"})
	assert.False(t, isErr, text)

	var sent bool
	for _, frame := range f.Conn.Sent() {
		if frame.Destination == domain.SendMessageDestination(1) {
			sent = true
		}
	}
	assert.True(t, sent)
}

func TestListReports(t *testing.T) {
	s, _ := newTestServer(t)

	text, _ := call(t, s.handleListReports, nil)
	assert.Contains(t, text, "Found 2 report(s)")

	text, _ = call(t, s.handleListReports, map[string]interface{}{"status": "closed"})
	assert.Contains(t, text, "Found 1 report(s)")
	assert.Contains(t, text, "dave")

	_, isErr := call(t, s.handleListReports, map[string]interface{}{"status": "maybe"})
	assert.True(t, isErr)
}

func TestConnectionStatus(t *testing.T) {
	s, _ := newTestServer(t)

	text, _ := call(t, s.handleConnectionStatus, nil)
	assert.Contains(t, text, "Connected: false")
	assert.Contains(t, text, "User: "+servicetest.Username)
}
