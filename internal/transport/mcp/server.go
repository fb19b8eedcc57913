package mcp

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/clippy-oss/homie/marketplace-chat/internal/service"
)

type ServerConfig struct {
	Address string
}

type Server struct {
	mcpServer  *server.MCPServer
	sseServer  *server.SSEServer
	mu         sync.Mutex
	httpServer *http.Server
	stopped    bool
	chatSvc    *service.ChatService
	msgSvc     *service.MessageService
	config     ServerConfig
}

func NewServer(
	chatSvc *service.ChatService,
	msgSvc *service.MessageService,
	config ServerConfig,
) *Server {
	s := &Server{
		chatSvc: chatSvc,
		msgSvc:  msgSvc,
		config:  config,
	}

	s.mcpServer = server.NewMCPServer(
		"marketplace-chat",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	s.registerTools()

	s.sseServer = server.NewSSEServer(s.mcpServer,
		server.WithKeepAliveInterval(30*time.Second),
	)

	return s
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool("marketplace_list_chats",
			mcp.WithDescription("List job marketplace chats, most recent activity first"),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of chats to return (default 20, max 100)"),
			),
		),
		s.handleListChats,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("marketplace_open_chat",
			mcp.WithDescription("Open a chat and return its messages, oldest first. Live updates follow the open chat."),
			mcp.WithNumber("chat_id",
				mcp.Required(),
				mcp.Description("ID of the chat"),
			),
		),
		s.handleOpenChat,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("marketplace_get_messages",
			mcp.WithDescription("Get messages of a chat. The open chat answers live, other chats from the local cache."),
			mcp.WithNumber("chat_id",
				mcp.Required(),
				mcp.Description("ID of the chat"),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of messages to return (default 50, max 200)"),
			),
		),
		s.handleGetMessages,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("marketplace_send_message",
			mcp.WithDescription("Send a text message to a chat. The chat is opened first when needed."),
			mcp.WithNumber("chat_id",
				mcp.Required(),
				mcp.Description("ID of the chat to send the message to"),
			),
			mcp.WithString("text",
				mcp.Required(),
				mcp.Description("Message text, at most 4095 characters"),
			),
		),
		s.handleSendMessage,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("marketplace_edit_message",
			mcp.WithDescription("Replace the text of one of your own text messages in the open chat"),
			mcp.WithNumber("message_id",
				mcp.Required(),
				mcp.Description("ID of the message"),
			),
			mcp.WithString("text",
				mcp.Required(),
				mcp.Description("New message text"),
			),
		),
		s.handleEditMessage,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("marketplace_delete_message",
			mcp.WithDescription("Delete one of your own messages in the open chat"),
			mcp.WithNumber("message_id",
				mcp.Required(),
				mcp.Description("ID of the message"),
			),
		),
		s.handleDeleteMessage,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("marketplace_report_message",
			mcp.WithDescription("Report another user's message in the open chat to the moderators"),
			mcp.WithNumber("message_id",
				mcp.Required(),
				mcp.Description("ID of the message"),
			),
			mcp.WithString("reason",
				mcp.Required(),
				mcp.Description("Why the message is reported"),
			),
		),
		s.handleReportMessage,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("marketplace_search_messages",
			mcp.WithDescription("Search cached messages across all chats by text content"),
			mcp.WithString("query",
				mcp.Required(),
				mcp.Description("Search query text"),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum results to return (default 20, max 100)"),
			),
		),
		s.handleSearchMessages,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("marketplace_engage_chat",
			mcp.WithDescription("Start, or find, the chat about a job request"),
			mcp.WithNumber("job_request_id",
				mcp.Required(),
				mcp.Description("ID of the job request"),
			),
		),
		s.handleEngageChat,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("marketplace_delete_chat",
			mcp.WithDescription("Delete a chat for both participants"),
			mcp.WithNumber("chat_id",
				mcp.Required(),
				mcp.Description("ID of the chat"),
			),
		),
		s.handleDeleteChat,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("marketplace_list_reports",
			mcp.WithDescription("List your own reports, or the moderation listing when status is given"),
			mcp.WithString("status",
				mcp.Description("'open' or 'closed' to query the moderation listing"),
				mcp.Enum("open", "closed"),
			),
			mcp.WithString("username",
				mcp.Description("Only reports about this user (moderation listing)"),
			),
		),
		s.handleListReports,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("marketplace_connection_status",
			mcp.WithDescription("Get the current chat connection status"),
		),
		s.handleConnectionStatus,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("marketplace_connect",
			mcp.WithDescription("Connect to the chat backend. Reconnects happen automatically afterwards."),
		),
		s.handleConnect,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("marketplace_disconnect",
			mcp.WithDescription("Disconnect from the chat backend"),
		),
		s.handleDisconnect,
	)
}

func (s *Server) Start() error {
	mux := http.NewServeMux()

	mux.Handle("/sse", s.sseServer.SSEHandler())
	mux.Handle("/message", s.sseServer.MessageHandler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if !s.chatSvc.IsConnected() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(s.chatSvc.State().String()))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.httpServer = &http.Server{
		Addr:    s.config.Address,
		Handler: mux,
	}
	srv := s.httpServer
	s.mu.Unlock()

	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
