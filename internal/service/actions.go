package service

import (
	"context"

	"github.com/clippy-oss/homie/marketplace-chat/internal/api"
	"github.com/clippy-oss/homie/marketplace-chat/internal/domain"
	"github.com/clippy-oss/homie/marketplace-chat/internal/media"
)

func (s *ChatService) sendable() error {
	chatID := s.window.ChatID()
	if chatID == 0 {
		return domain.ErrNoActiveChat
	}
	return s.overview.CanSend(chatID)
}

// SendMessage publishes text to the open chat.
func (s *ChatService) SendMessage(text string) error {
	if err := s.sendable(); err != nil {
		return err
	}
	return s.window.SendMessage(text)
}

func (s *ChatService) SetDraft(text string) {
	s.window.SetDraft(text)
}

func (s *ChatService) SendDraft() error {
	if err := s.sendable(); err != nil {
		return err
	}
	return s.window.SendDraft()
}

func (s *ChatService) EditMessage(messageID int64, text string) error {
	return s.window.RequestEdit(messageID, text)
}

func (s *ChatService) DeleteMessage(messageID int64) error {
	return s.window.RequestDelete(messageID)
}

func (s *ChatService) ReportMessage(ctx context.Context, messageID int64, reason string) (*api.ReportDetail, error) {
	return s.window.RequestReport(ctx, messageID, reason)
}

// AttachFile stages an attachment for the open chat and returns its preview.
func (s *ChatService) AttachFile(name, contentType string, data []byte) (*media.Preview, error) {
	if err := s.sendable(); err != nil {
		return nil, err
	}
	return s.window.SelectFile(name, contentType, data)
}

func (s *ChatService) Preview() *media.Preview {
	return s.window.Preview()
}

func (s *ChatService) CancelAttachment() {
	s.window.CancelPreview()
}

// ConfirmAttachment uploads the staged file and sends it as a MEDIA message.
func (s *ChatService) ConfirmAttachment(ctx context.Context) (domain.ChatImage, error) {
	if err := s.sendable(); err != nil {
		s.window.CancelPreview()
		return domain.ChatImage{}, err
	}
	return s.window.ConfirmUpload(ctx)
}

// MediaFile returns a local copy of an attachment of the open chat.
func (s *ChatService) MediaFile(ctx context.Context, mediaURL string) (string, error) {
	return s.window.FetchMedia(ctx, mediaURL)
}
