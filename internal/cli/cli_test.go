package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clippy-oss/homie/marketplace-chat/internal/api"
	"github.com/clippy-oss/homie/marketplace-chat/internal/domain"
	"github.com/clippy-oss/homie/marketplace-chat/internal/realtime"
	"github.com/clippy-oss/homie/marketplace-chat/internal/service/servicetest"
)

func newTestHandler(t *testing.T) *CommandHandler {
	t.Helper()
	backend := servicetest.NewBackend(
		domain.Chat{ID: 1, CounterPartName: "bob", JobRequestTitle: "Fix roof"},
		domain.Chat{ID: 2, CounterPartName: "carol", JobRequestTitle: "Paint fence"},
	)
	backend.History[1] = []domain.ChatMessage{
		{ID: 1, SenderUsername: "bob", MessageType: domain.MessageTypeText, Message: "hello"},
	}
	backend.Reports = []api.ReportListItem{{ID: 3, Reason: "spam", IsOpen: true}}
	f := servicetest.New(t, backend)

	return NewCommandHandler(f.Service, f.Messages, f.Bus, HandlerConfig{WebURL: "https://example.com/"})
}

func TestParseCommand(t *testing.T) {
	cmd, err := ParseCommand("  /send hello   there ")
	require.NoError(t, err)
	assert.Equal(t, "send", cmd.Name)
	assert.Equal(t, []string{"hello", "there"}, cmd.Args)

	for _, input := range []string{"", "   ", "hello", "/"} {
		_, err := ParseCommand(input)
		assert.Error(t, err, input)
	}
}

func TestParamsToArgs(t *testing.T) {
	assert.Equal(t, []string{"12", "fixed it"}, paramsToArgs("edit", map[string]interface{}{
		"message_id": float64(12),
		"text":       "fixed it",
	}))
	assert.Equal(t, []string{"open", "bob"}, paramsToArgs("reports", map[string]interface{}{
		"open":     true,
		"username": "bob",
	}))
	assert.Equal(t, []string{"7"}, paramsToArgs("open", map[string]interface{}{"chat_id": float64(7)}))
	assert.Nil(t, paramsToArgs("status", nil))
}

func TestChatLink(t *testing.T) {
	link, err := ChatLink("https://example.com/", 42)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/chats/42", link.URL)
	assert.NotEmpty(t, link.QRCode)
}

func TestExecuteChatsAndOpen(t *testing.T) {
	h := newTestHandler(t)
	ctx := context.Background()

	result, err := h.Execute(ctx, &Command{Name: "chats"})
	require.NoError(t, err)
	chats := result.(map[string]interface{})["chats"].([]ChatInfo)
	require.Len(t, chats, 2)
	assert.Equal(t, "bob", chats[0].CounterPart)

	result, err = h.Execute(ctx, &Command{Name: "open", Args: []string{"1"}})
	require.NoError(t, err)
	messages := result.(map[string]interface{})["messages"].([]MessageInfo)
	require.Len(t, messages, 1)
	assert.Equal(t, "hello", messages[0].Text)
	assert.False(t, messages[0].IsFromMe)

	_, err = h.Execute(ctx, &Command{Name: "open", Args: []string{"abc"}})
	assert.Error(t, err)
	_, err = h.Execute(ctx, &Command{Name: "send", Args: []string{"hi"}})
	assert.ErrorIs(t, err, realtime.ErrNotConnected)
	_, err = h.Execute(ctx, &Command{Name: "nope"})
	assert.Error(t, err)
}

func TestHeadlessSession(t *testing.T) {
	h := newTestHandler(t)
	in := strings.Join([]string{
		`{"id":"1","command":"status"}`,
		`{"id":"2","command":"reports"}`,
		`not json`,
		`{"command":"link","params":{"chat_id":5}}`,
		`{"id":"4","command":"quit"}`,
		`{"id":"5","command":"status"}`,
	}, "\n") + "\n"
	var out bytes.Buffer

	cli := NewHeadlessCLIWithIO(h, strings.NewReader(in), &out)
	require.NoError(t, cli.Run(context.Background()))

	var responses []Response
	scanner := bufio.NewScanner(&out)
	scanner.Buffer(make([]byte, 1<<20), 1<<20)
	for scanner.Scan() {
		var line map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		if line["type"] == "event" {
			continue
		}
		var resp Response
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))
		responses = append(responses, resp)
	}

	require.Len(t, responses, 6)
	assert.True(t, responses[0].Success)
	assert.Equal(t, "1", responses[1].ID)
	assert.Equal(t, "2", responses[2].ID)
	assert.Contains(t, responses[2].Data, "reports")
	assert.False(t, responses[3].Success)
	assert.NotEmpty(t, responses[4].ID)
	assert.Contains(t, responses[4].Data.(map[string]interface{})["url"], "/chats/5")
	assert.Equal(t, "4", responses[5].ID)
}

func TestInteractiveSendsPlainText(t *testing.T) {
	h := newTestHandler(t)
	in := "/open 2\nhello\n/quit\n"
	var out bytes.Buffer

	cli := NewInteractiveCLIWithIO(h, strings.NewReader(in), &out)
	done := make(chan error, 1)
	go func() { done <- cli.Run(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("interactive loop did not stop")
	}
	assert.Contains(t, out.String(), "Error: failed to send message")
	assert.Contains(t, out.String(), "Goodbye!")
}
