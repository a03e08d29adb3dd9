package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/koscakluka/ema-coach/core/credentials"
)

func TestListScenariosUnwrapsEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/coach/scenario" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("expected bearer header, got %q", got)
		}
		_, _ = w.Write([]byte(`{"message":"ok","data":[{"id":"s1","title":"Ordering coffee","description":"At a cafe"}]}`))
	}))
	defer server.Close()

	client, err := NewClient(server.URL+"/api", WithCredentials(credentials.NewMemoryStore("secret")))
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}

	scenarios, err := client.ListScenarios(context.Background())
	if err != nil {
		t.Fatalf("ListScenarios returned error: %v", err)
	}
	if len(scenarios) != 1 || scenarios[0].ID != "s1" || scenarios[0].Title != "Ordering coffee" {
		t.Fatalf("unexpected scenarios %+v", scenarios)
	}
}

func TestCreateConversationPostsBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/coach/conversation" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var create ConversationCreate
		if err := json.NewDecoder(r.Body).Decode(&create); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}
		if create.UserID != "u1" || create.ScenarioID != "s1" {
			t.Errorf("unexpected body %+v", create)
		}
		_, _ = w.Write([]byte(`{"message":"created","data":{"id":"c1","user_id":"u1","scenario_id":"s1","created_at":"2025-01-02T03:04:05Z","updated_at":"2025-01-02T03:04:05Z"}}`))
	}))
	defer server.Close()

	client, err := NewClient(server.URL)
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}

	conversation, err := client.CreateConversation(context.Background(), ConversationCreate{UserID: "u1", ScenarioID: "s1"})
	if err != nil {
		t.Fatalf("CreateConversation returned error: %v", err)
	}
	if conversation.ID != "c1" || conversation.CreatedAt.IsZero() {
		t.Fatalf("unexpected conversation %+v", conversation)
	}
}

func TestListMessagesDecodesSources(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/coach/conversation/c1/message" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"message":"ok","data":[
			{"id":"m1","source":"USER","conversation_id":"c1","content":"Hello","sent_at":"2025-01-02T03:04:05Z"},
			{"id":"m2","source":"BOT","conversation_id":"c1","content":"Hi there","sent_at":"2025-01-02T03:04:06Z"}
		]}`))
	}))
	defer server.Close()

	client, _ := NewClient(server.URL)
	messages, err := client.ListMessages(context.Background(), "c1")
	if err != nil {
		t.Fatalf("ListMessages returned error: %v", err)
	}
	if len(messages) != 2 || messages[0].Source != SourceUser || messages[1].Source != SourceBot {
		t.Fatalf("unexpected messages %+v", messages)
	}
}

func TestListConversationsFiltersByUser(t *testing.T) {
	var requests []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests = append(requests, r.Method+" "+r.URL.Path)
		if r.URL.Path != "/coach/conversation/user/u1" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"message":"ok","data":[{"id":"c1","user_id":"u1","scenario_id":"s1"}]}`))
	}))
	defer server.Close()

	client, _ := NewClient(server.URL)
	conversations, err := client.ListConversations(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ListConversations returned error: %v", err)
	}
	if len(conversations) != 1 || conversations[0].ID != "c1" || conversations[0].UserID != "u1" {
		t.Fatalf("unexpected conversations %+v", conversations)
	}
	if len(requests) != 1 || requests[0] != "GET /coach/conversation/user/u1" {
		t.Fatalf("unexpected requests %q", requests)
	}

	if _, err := client.ListConversations(context.Background(), ""); err == nil {
		t.Fatalf("expected an empty user id to be rejected")
	}
	if len(requests) != 1 {
		t.Fatalf("expected no request without a user id, got %q", requests)
	}
}

func TestNonOKStatusReturnsAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"Not authenticated"}`))
	}))
	defer server.Close()

	client, _ := NewClient(server.URL)
	_, err := client.ListConversations(context.Background(), "u1")

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized || apiErr.Message != "Not authenticated" {
		t.Fatalf("expected APIError with detail, got %v", err)
	}
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected error to match ErrUnauthorized")
	}
}

func TestWebsocketURL(t *testing.T) {
	testCases := []struct {
		base     string
		path     string
		expected string
	}{
		{base: "http://localhost:8000", path: "/assistant/ws", expected: "ws://localhost:8000/assistant/ws"},
		{base: "https://api.example.com/v1/", path: "coach/ws", expected: "wss://api.example.com/v1/coach/ws"},
	}

	for _, testCase := range testCases {
		client, err := NewClient(testCase.base)
		if err != nil {
			t.Fatalf("NewClient returned error: %v", err)
		}
		if got := client.WebsocketURL(testCase.path); got != testCase.expected {
			t.Fatalf("expected %q, got %q", testCase.expected, got)
		}
	}
}

func TestNewClientRejectsInvalidScheme(t *testing.T) {
	if _, err := NewClient("ftp://example.com"); err == nil {
		t.Fatalf("expected invalid scheme to be rejected")
	}
}
