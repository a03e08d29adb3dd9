package backend

import "time"

type MessageSource string

const (
	SourceUser MessageSource = "USER"
	SourceBot  MessageSource = "BOT"
)

type Scenario struct {
	ID          string `json:"id,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type Conversation struct {
	ID         string    `json:"id,omitempty"`
	UserID     string    `json:"user_id"`
	ScenarioID string    `json:"scenario_id,omitempty"`
	CreatedAt  time.Time `json:"created_at,omitzero"`
	UpdatedAt  time.Time `json:"updated_at,omitzero"`
}

type ConversationCreate struct {
	UserID     string `json:"user_id"`
	ScenarioID string `json:"scenario_id,omitempty"`
}

type Message struct {
	ID             string        `json:"id,omitempty"`
	Source         MessageSource `json:"source"`
	ConversationID string        `json:"conversation_id"`
	Content        string        `json:"content"`
	SentAt         time.Time     `json:"sent_at,omitzero"`
}

// envelope is the shape of every backend response body.
type envelope[T any] struct {
	Message string `json:"message"`
	Data    T      `json:"data"`
}
