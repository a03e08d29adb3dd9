package coach

import (
	"slices"
	"sync"

	"github.com/jinzhu/copier"
	"github.com/koscakluka/ema-coach/core/backend"
)

// Conversation is a conversation together with the messages known locally.
type Conversation struct {
	backend.Conversation
	Messages []backend.Message
}

// Store is the single owned collection of conversations and their messages.
// Everything it returns is a deep copy, so callers never share a message
// list with the store.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
	order         []string
	scenarios     []backend.Scenario
}

func NewStore() *Store {
	return &Store{conversations: make(map[string]*Conversation)}
}

// Upsert adds or updates conversation metadata, keeping known messages.
func (s *Store) Upsert(conversation backend.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getOrCreateLocked(conversation.ID).Conversation = conversation
}

// Append adds message to its conversation. Messages already stored under the
// same id are ignored.
func (s *Store) Append(message backend.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	conversation := s.getOrCreateLocked(message.ConversationID)
	if message.ID != "" && slices.ContainsFunc(conversation.Messages, func(m backend.Message) bool { return m.ID == message.ID }) {
		return false
	}
	conversation.Messages = append(conversation.Messages, message)
	return true
}

// SetMessages replaces the messages of a conversation, e.g. with its history
// from the backend.
func (s *Store) SetMessages(conversationID string, messages []backend.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getOrCreateLocked(conversationID).Messages = slices.Clone(messages)
}

func (s *Store) Conversation(id string) (Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conversation, ok := s.conversations[id]
	if !ok {
		return Conversation{}, false
	}
	return deepCopy(*conversation), true
}

// Conversations returns all conversations in insertion order.
func (s *Store) Conversations() []Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conversations := make([]Conversation, 0, len(s.order))
	for _, id := range s.order {
		conversations = append(conversations, deepCopy(*s.conversations[id]))
	}
	return conversations
}

func (s *Store) Messages(conversationID string) []backend.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conversation, ok := s.conversations[conversationID]
	if !ok {
		return nil
	}
	return deepCopy(*conversation).Messages
}

func (s *Store) SetScenarios(scenarios []backend.Scenario) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scenarios = slices.Clone(scenarios)
}

func (s *Store) Scenarios() []backend.Scenario {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.scenarios)
}

func (s *Store) getOrCreateLocked(id string) *Conversation {
	conversation, ok := s.conversations[id]
	if !ok {
		conversation = &Conversation{Conversation: backend.Conversation{ID: id}}
		s.conversations[id] = conversation
		s.order = append(s.order, id)
	}
	return conversation
}

func deepCopy(conversation Conversation) Conversation {
	out := Conversation{Conversation: conversation.Conversation}
	if len(conversation.Messages) == 0 {
		return out
	}
	if err := copier.Copy(&out.Messages, conversation.Messages); err != nil {
		logger.Warn("failed to copy messages", "conversation_id", conversation.ID, "error", err)
		out.Messages = slices.Clone(conversation.Messages)
	}
	return out
}
