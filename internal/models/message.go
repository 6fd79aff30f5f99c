package models

import (
	"time"
)

type MessageType string

const (
	MessageTypeText  MessageType = "TEXT"
	MessageTypeImage MessageType = "IMAGE"
)

type ChatType string

const (
	ChatTypeIndividual ChatType = "INDIVIDUAL"
	ChatTypeGroup      ChatType = "GROUP"
)

// Message is a chat message as persisted by the send flow. This service never
// creates messages; it only flips the delivery fields after a successful send.
type Message struct {
	MessageID        string      `db:"message_id"`
	ChatID           string      `db:"chat_id"`
	SenderID         string      `db:"sender_id"`
	SenderName       string      `db:"sender_name"`
	Content          string      `db:"content"`
	EncryptedContent string      `db:"encrypted_content"`
	MessageType      MessageType `db:"message_type"`
	MediaURL         *string     `db:"media_url"`
	IsDelivered      bool        `db:"is_delivered"`
	DeliveredAt      *time.Time  `db:"delivered_at"`
	CreatedAt        time.Time   `db:"created_at"`
}

// Chat is the participant directory for one conversation. EncryptionKey is the
// base64-encoded symmetric key clients used to encrypt message content, empty
// for unencrypted chats.
type Chat struct {
	ChatID        string
	ChatType      ChatType
	GroupName     string
	EncryptionKey string
	Participants  []Participant
	CreatedAt     time.Time
}

// Participant holds one chat member's display name and registered delivery tokens.
type Participant struct {
	UserID      string
	DisplayName string
	Tokens      []string
}

// Recipients returns the participants to notify for a message from senderID,
// skipping the sender and anyone without a registered token.
func (c *Chat) Recipients(senderID string) []Participant {
	recipients := make([]Participant, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p.UserID == senderID || len(p.Tokens) == 0 {
			continue
		}
		recipients = append(recipients, p)
	}
	return recipients
}
