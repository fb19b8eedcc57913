package api

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/clippy-oss/homie/marketplace-chat/internal/domain"
)

// ListChats returns the chats of the current user.
func (c *Client) ListChats(ctx context.Context) ([]domain.Chat, error) {
	var chats []domain.Chat
	if err := c.getJSON(ctx, "/chats", nil, &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

// EngageChat opens a conversation about a job request and returns the chat id.
func (c *Client) EngageChat(ctx context.Context, jobRequestID int64) (int64, error) {
	var created domain.CreatedChat
	if err := c.sendJSON(ctx, http.MethodPost, fmt.Sprintf("/chats/engage/%d", jobRequestID), nil, &created); err != nil {
		return 0, err
	}
	return created.ChatID, nil
}

// ListMessages returns the history of a chat, newest first.
func (c *Client) ListMessages(ctx context.Context, chatID int64) ([]domain.ChatMessage, error) {
	var msgs []domain.ChatMessage
	if err := c.getJSON(ctx, fmt.Sprintf("/chats/%d/messages", chatID), nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (c *Client) LastMessage(ctx context.Context, chatID int64) (*domain.ChatMessage, error) {
	var msg domain.ChatMessage
	if err := c.getJSON(ctx, fmt.Sprintf("/chats/%d/messages/last", chatID), nil, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *Client) DeleteChat(ctx context.Context, chatID int64) error {
	return c.sendJSON(ctx, http.MethodDelete, fmt.Sprintf("/chats/%d", chatID), nil, nil)
}

// UploadMedia posts an attachment as the multipart field "image".
func (c *Client) UploadMedia(ctx context.Context, name, contentType string, data []byte) (domain.ChatImage, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="%s"`, escapeQuotes(name)))
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return domain.ChatImage{}, fmt.Errorf("failed to create upload part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return domain.ChatImage{}, fmt.Errorf("failed to write upload part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return domain.ChatImage{}, fmt.Errorf("failed to finish upload body: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/chats/uploads", nil, &buf)
	if err != nil {
		return domain.ChatImage{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var img domain.ChatImage
	if err := c.do(req, &img); err != nil {
		return domain.ChatImage{}, err
	}
	return img, nil
}

// DownloadMedia fetches an uploaded file. mediaURL is either absolute or relative to the
// backend origin.
func (c *Client) DownloadMedia(ctx context.Context, mediaURL string) ([]byte, error) {
	u := mediaURL
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		u = c.baseURL + "/" + strings.TrimLeft(u, "/")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if err := c.authorize(req); err != nil {
		return nil, err
	}

	var data []byte
	if err := c.do(req, &data); err != nil {
		return nil, err
	}
	return data, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
