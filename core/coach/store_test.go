package coach

import (
	"testing"
	"time"

	"github.com/koscakluka/ema-coach/core/backend"
)

func TestAppendIgnoresDuplicateIDs(t *testing.T) {
	store := NewStore()
	message := backend.Message{ID: "m1", ConversationID: "c1", Content: "hello", Source: backend.SourceUser}

	if !store.Append(message) {
		t.Fatalf("expected first append to be stored")
	}
	if store.Append(message) {
		t.Fatalf("expected duplicate append to be ignored")
	}
	if got := len(store.Messages("c1")); got != 1 {
		t.Fatalf("expected one message, got %d", got)
	}
}

func TestMessagesAreCopies(t *testing.T) {
	store := NewStore()
	sentAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store.Append(backend.Message{ID: "m1", ConversationID: "c1", Content: "hello", SentAt: sentAt})

	messages := store.Messages("c1")
	messages[0].Content = "changed"
	_ = append(messages, backend.Message{ID: "m2"})

	stored := store.Messages("c1")
	if len(stored) != 1 || stored[0].Content != "hello" {
		t.Fatalf("expected store to be unaffected, got %+v", stored)
	}
	if !stored[0].SentAt.Equal(sentAt) {
		t.Fatalf("expected sent time to survive the copy, got %v", stored[0].SentAt)
	}
}

func TestUpsertKeepsMessagesAndOrder(t *testing.T) {
	store := NewStore()
	store.Upsert(backend.Conversation{ID: "c1", ScenarioID: "s1"})
	store.Append(backend.Message{ID: "m1", ConversationID: "c1"})
	store.Upsert(backend.Conversation{ID: "c2"})
	store.Upsert(backend.Conversation{ID: "c1", ScenarioID: "s2"})

	conversations := store.Conversations()
	if len(conversations) != 2 || conversations[0].ID != "c1" || conversations[1].ID != "c2" {
		t.Fatalf("unexpected conversations %+v", conversations)
	}
	if conversations[0].ScenarioID != "s2" || len(conversations[0].Messages) != 1 {
		t.Fatalf("expected metadata update to keep messages, got %+v", conversations[0])
	}

	if _, ok := store.Conversation("missing"); ok {
		t.Fatalf("expected missing conversation not to be found")
	}
	if got := store.Messages("missing"); got != nil {
		t.Fatalf("expected no messages for a missing conversation, got %+v", got)
	}
}

func TestSetMessagesReplacesHistory(t *testing.T) {
	store := NewStore()
	store.Append(backend.Message{ID: "old", ConversationID: "c1"})
	store.SetMessages("c1", []backend.Message{{ID: "m1", ConversationID: "c1"}, {ID: "m2", ConversationID: "c1"}})

	messages := store.Messages("c1")
	if len(messages) != 2 || messages[0].ID != "m1" {
		t.Fatalf("unexpected messages %+v", messages)
	}
}

func TestScenarios(t *testing.T) {
	store := NewStore()
	scenarios := []backend.Scenario{{ID: "s1"}}
	store.SetScenarios(scenarios)
	scenarios[0].ID = "changed"

	if got := store.Scenarios(); len(got) != 1 || got[0].ID != "s1" {
		t.Fatalf("expected stored scenarios to be a copy, got %+v", got)
	}
}
