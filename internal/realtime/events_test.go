package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clippy-oss/homie/marketplace-chat/internal/domain"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		channel domain.Channel
		body    string
		want    Event
	}{
		{
			name:    "message",
			channel: domain.MessagesChannel(4),
			body:    `{"id":1,"senderUsername":"bob","messageType":"TEXT","message":"hi","read":false,"edited":false}`,
			want: MessageEvent{ChatID: 4, Message: domain.ChatMessage{
				ID: 1, SenderUsername: "bob", MessageType: domain.MessageTypeText, Message: "hi",
			}},
		},
		{
			name:    "read receipt",
			channel: domain.ReadReceiptsChannel(4),
			body:    `{"read":true,"reader":"bob"}`,
			want:    ReadEvent{ChatID: 4, Receipt: domain.ReadReceipt{Read: true, Reader: "bob"}},
		},
		{
			name:    "edit",
			channel: domain.MessageActionChannel(4),
			body:    `{"messageId":3,"newMessage":"fixed","deleted":false,"edited":true}`,
			want:    ActionEvent{ChatID: 4, Action: domain.MessageActionNotification{MessageID: 3, NewMessage: "fixed", Edited: true}},
		},
		{
			name:    "notification",
			channel: domain.NotificationsChannel(),
			body:    `{"chatId":5,"username":"bob","messageType":"MEDIA","message":"Attachment"}`,
			want: NotificationEvent{Notification: domain.ChatNotification{
				ChatID: 5, Username: "bob", MessageType: domain.MessageTypeMedia, Message: "Attachment",
			}},
		},
		{
			name:    "chat deleted",
			channel: domain.ChatDeletedChannel(),
			body:    `{"chatId":5}`,
			want:    ChatDeletedEvent{ChatID: 5},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.channel, []byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.channel, got.Channel())
		})
	}
}

func TestDecodeMalformed(t *testing.T) {
	_, err := Decode(domain.MessagesChannel(1), []byte("{"))
	assert.Error(t, err)

	_, err = Decode(domain.Channel{Kind: "bogus"}, []byte("{}"))
	assert.Error(t, err)
}
