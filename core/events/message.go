package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	KindMessage Kind = "message.received"
)

type MessageSource string

const (
	SourceUser MessageSource = "USER"
	SourceBot  MessageSource = "BOT"
)

// Message is a single chat message of a conversation.
type Message struct {
	Base
	ID             string
	ConversationID string
	Content        string
	Source         MessageSource
	SentAt         time.Time
}

func NewMessage(conversationID, content string, source MessageSource) Message {
	base := NewBase(KindMessage)
	return Message{
		Base:           base,
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Content:        content,
		Source:         source,
		SentAt:         base.Timestamp(),
	}
}
