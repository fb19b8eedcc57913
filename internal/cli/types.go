package cli

import "time"

// Mode represents the CLI operation mode
type Mode string

const (
	ModeInteractive Mode = "interactive"
	ModeHeadless    Mode = "headless"
)

// Request represents a JSON request in headless mode
type Request struct {
	ID      string                 `json:"id,omitempty"`
	Command string                 `json:"command"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// Response represents a JSON response in headless mode
type Response struct {
	ID      string      `json:"id,omitempty"`
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Event represents a real-time event in headless mode
type Event struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

type ChatInfo struct {
	ID                int64      `json:"id"`
	JobRequestID      int64      `json:"job_request_id"`
	JobRequestTitle   string     `json:"job_request_title"`
	CounterPart       string     `json:"counter_part"`
	CounterPartBanned bool       `json:"counter_part_banned,omitempty"`
	UnreadCount       int        `json:"unread_count"`
	LastMessageText   string     `json:"last_message_text,omitempty"`
	LastMessageTime   *time.Time `json:"last_message_time,omitempty"`
	Active            bool       `json:"active,omitempty"`
}

type MessageInfo struct {
	ID        int64     `json:"id"`
	ChatID    int64     `json:"chat_id"`
	Sender    string    `json:"sender"`
	Type      string    `json:"type"`
	Text      string    `json:"text,omitempty"`
	MediaName string    `json:"media_name,omitempty"`
	MediaURL  string    `json:"media_url,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	IsFromMe  bool      `json:"is_from_me"`
	IsRead    bool      `json:"is_read"`
	IsEdited  bool      `json:"is_edited,omitempty"`
}

type ConnectionStatus struct {
	Connected  bool     `json:"connected"`
	Status     string   `json:"status"`
	Username   string   `json:"username"`
	ReadOnly   bool     `json:"read_only"`
	ActiveChat int64    `json:"active_chat,omitempty"`
	Channels   []string `json:"channels,omitempty"`
}

type PreviewInfo struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Kind        string `json:"kind"`
	Size        int64  `json:"size"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
}

type ReportInfo struct {
	ID        int64  `json:"id"`
	Reporter  string `json:"reporter"`
	Target    string `json:"target"`
	Type      string `json:"type"`
	Reason    string `json:"reason"`
	Open      bool   `json:"open"`
	CreatedAt string `json:"reported_at"`
}

// LinkInfo is a shareable chat link with its QR rendering.
type LinkInfo struct {
	ChatID int64  `json:"chat_id"`
	URL    string `json:"url"`
	QRCode string `json:"qr_code,omitempty"`
}
