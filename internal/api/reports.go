package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/clippy-oss/homie/marketplace-chat/internal/domain"
)

type ReportType string

const (
	ReportTypeJobRequest ReportType = "JOB_REQUEST"
	ReportTypeMessage    ReportType = "MESSAGE"
)

type ReportMessageRequest struct {
	MessageID int64  `json:"messageId"`
	ChatID    int64  `json:"chatId"`
	Reason    string `json:"reason"`
}

type ReportListItem struct {
	ID               int64      `json:"id"`
	ReporterUsername string     `json:"reporterUsername"`
	TargetUsername   string     `json:"targetUsername"`
	Type             ReportType `json:"type"`
	Reason           string     `json:"reason"`
	IsOpen           bool       `json:"isOpen"`
	ReportedAt       string     `json:"reportedAt"`
	JobRequestTitle  string     `json:"jobRequestTitle,omitempty"`
}

type ReportDetail struct {
	ReportListItem
	MessageID int64  `json:"messageId,omitempty"`
	Message   string `json:"message,omitempty"`
	MediaName string `json:"mediaName,omitempty"`
	MediaURL  string `json:"mediaUrl,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// ReportQuery filters the moderation listing.
type ReportQuery struct {
	Offset   int
	Limit    int
	Open     bool
	Username string
}

// ReportMessage files a report against someone else's message. A second report of the same
// message answers 409.
func (c *Client) ReportMessage(ctx context.Context, chatID, messageID int64, reason string) (*ReportDetail, error) {
	var detail ReportDetail
	in := ReportMessageRequest{MessageID: messageID, ChatID: chatID, Reason: reason}
	if err := c.sendJSON(ctx, http.MethodPost, "/reports/messages", in, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

func (c *Client) MyReports(ctx context.Context) ([]ReportListItem, error) {
	var items []ReportListItem
	if err := c.getJSON(ctx, "/reports/me", nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *Client) SearchReports(ctx context.Context, q ReportQuery) (*domain.Page[ReportListItem], error) {
	if q.Limit <= 0 {
		q.Limit = 20
	}
	query := url.Values{}
	query.Set("offset", strconv.Itoa(q.Offset))
	query.Set("limit", strconv.Itoa(q.Limit))
	query.Set("status", strconv.FormatBool(q.Open))
	if q.Username != "" {
		query.Set("username", q.Username)
	}

	var page domain.Page[ReportListItem]
	if err := c.getJSON(ctx, "/reports", query, &page); err != nil {
		return nil, err
	}
	return &page, nil
}
