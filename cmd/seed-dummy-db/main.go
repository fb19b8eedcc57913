package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"sort"
	"time"

	"github.com/clippy-oss/homie/marketplace-chat/internal/domain"
	"github.com/clippy-oss/homie/marketplace-chat/internal/repository"
)

const myUsername = "me"

func main() {
	// Default to a dummy database in the current directory
	dbPath := "dummy_marketplace_chat.db"
	if len(os.Args) > 1 {
		dbPath = os.Args[1]
	}

	fmt.Printf("Using database at: %s\n", dbPath)

	db, err := repository.Open(dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer repository.Close(db)

	ctx := context.Background()
	chatRepo := repository.NewChatRepository(db)
	msgRepo := repository.NewMessageRepository(db)

	if err := seedDummyData(ctx, chatRepo, msgRepo, rand.New(rand.NewSource(time.Now().UnixNano()))); err != nil {
		log.Fatalf("Failed to seed dummy data: %v", err)
	}

	fmt.Println("Successfully regenerated chats and messages")
	fmt.Printf("Database location: %s\n", dbPath)
	fmt.Printf("Run with a token whose subject is %q to see your own messages as sent\n", myUsername)
}

func seedDummyData(ctx context.Context, chatRepo repository.ChatRepository, msgRepo repository.MessageRepository, rng *rand.Rand) error {
	counterparts := []string{
		"alice.johnson",
		"bob.smith",
		"charlie.brown",
		"diana.prince",
		"eve.wilson",
		"frank.miller",
		"grace.lee",
		"henry.davis",
	}

	jobTitles := []string{
		"Fix leaking kitchen faucet",
		"Paint the garden fence",
		"Assemble IKEA wardrobe",
		"Replace bathroom tiles",
		"Mow the lawn every two weeks",
		"Install ceiling lamp",
		"Move a piano to the second floor",
		"Clean gutters before winter",
	}

	sampleTexts := []string{
		"Hi! Is the job still available?",
		"I can come by tomorrow morning.",
		"What tools do I need to bring?",
		"The price works for me.",
		"Could you send a photo of the area?",
		"I'll be there at 9.",
		"Running ten minutes late, sorry!",
		"All done, let me know what you think.",
		"Thanks, looks great!",
		"Can we move it to Friday?",
		"Do you have parking nearby?",
		"Payment sent.",
	}

	now := time.Now()
	chats := make([]domain.Chat, 0, len(counterparts))
	var messageID int64 = 1000

	for i, name := range counterparts {
		chatID := int64(i + 1)
		numMessages := 8 + rng.Intn(8)
		messageTime := now.Add(-time.Duration(1+rng.Intn(3)) * 24 * time.Hour)

		history := make([]domain.ChatMessage, 0, numMessages)
		for j := 0; j < numMessages; j++ {
			if j > 0 {
				messageTime = messageTime.Add(time.Duration(10+rng.Intn(50)) * time.Minute)
				if messageTime.After(now) {
					messageTime = now.Add(-time.Duration(rng.Intn(30)) * time.Minute)
				}
			}

			sender := name
			if rng.Float32() < 0.4 {
				sender = myUsername
			}

			messageID++
			msg := domain.ChatMessage{
				ID:             messageID,
				SenderUsername: sender,
				MessageType:    domain.MessageTypeText,
				Message:        sampleTexts[rng.Intn(len(sampleTexts))],
				Read:           true,
				Edited:         rng.Float32() < 0.1,
				Timestamp:      messageTime,
			}
			if rng.Float32() < 0.1 {
				msg.MessageType = domain.MessageTypeMedia
				msg.Message = domain.AttachmentText
				msg.MediaName = fmt.Sprintf("photo-%d.jpg", messageID)
				msg.MediaURL = "/api/v1/uploads/" + msg.MediaName
			}
			history = append(history, msg)
		}

		// The newest messages from the counterpart stay unread
		unread := 0
		for j := len(history) - 1; j >= 0 && history[j].SenderUsername == name; j-- {
			if rng.Float32() < 0.5 {
				break
			}
			history[j].Read = false
			unread++
		}

		chat := domain.Chat{
			ID:                     chatID,
			JobRequestID:           int64(100 + i),
			JobRequestTitle:        jobTitles[i%len(jobTitles)],
			CounterPartName:        name,
			CounterPartBanned:      i == len(counterparts)-1,
			NumberOfUnreadMessages: unread,
		}
		for j := len(history) - 1; j >= 0; j-- {
			if history[j].SenderUsername == name {
				ts := history[j].Timestamp
				chat.LastMessageOfCounterpart = history[j].Message
				chat.LastMessageOfCounterpartTime = &ts
				break
			}
		}

		// The cache stores histories newest first, as the backend serves them
		newestFirst := make([]domain.ChatMessage, len(history))
		for j, msg := range history {
			newestFirst[len(history)-1-j] = msg
		}
		if err := msgRepo.ReplaceHistory(ctx, chatID, newestFirst); err != nil {
			return fmt.Errorf("failed to store messages for chat %d: %w", chatID, err)
		}

		chats = append(chats, chat)
		fmt.Printf("Chat %d with %s: %d messages, %d unread\n", chatID, name, len(history), unread)
	}

	// Most recent activity first
	sort.SliceStable(chats, func(i, j int) bool {
		return lastActivity(chats[i]).After(lastActivity(chats[j]))
	})
	if err := chatRepo.ReplaceAll(ctx, chats); err != nil {
		return fmt.Errorf("failed to store chats: %w", err)
	}
	return nil
}

func lastActivity(c domain.Chat) time.Time {
	if c.LastMessageOfCounterpartTime == nil {
		return time.Time{}
	}
	return *c.LastMessageOfCounterpartTime
}
