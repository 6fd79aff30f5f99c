package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChatRecipients(t *testing.T) {
	chat := &Chat{
		ChatID: "chat-1",
		Participants: []Participant{
			{UserID: "alice", Tokens: []string{"tok-a"}},
			{UserID: "bob", Tokens: []string{"tok-b1", "tok-b2"}},
			{UserID: "carol", Tokens: nil},
			{UserID: "dave", Tokens: []string{"tok-d"}},
		},
	}

	recipients := chat.Recipients("alice")

	// Sender and token-less participants are skipped
	assert.Len(t, recipients, 2)
	assert.Equal(t, "bob", recipients[0].UserID)
	assert.Equal(t, "dave", recipients[1].UserID)
}

func TestChatRecipients_Empty(t *testing.T) {
	chat := &Chat{ChatID: "chat-1"}
	assert.Empty(t, chat.Recipients("alice"))

	chat.Participants = []Participant{{UserID: "alice", Tokens: []string{"tok-a"}}}
	assert.Empty(t, chat.Recipients("alice"))
}
