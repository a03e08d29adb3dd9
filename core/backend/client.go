// Package backend is a small REST client for the coaching backend's scenario,
// conversation and message resources. Streaming endpoints are only resolved
// here, the session package talks to them.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/koscakluka/ema-coach/core/credentials"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const coachPrefix = "/coach"

var ErrUnauthorized = errors.New("backend rejected the credentials")

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && (e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden)
}

type ClientOption func(*ClientOptions)

type ClientOptions struct {
	HTTPClient  *http.Client
	Credentials credentials.Store
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(o *ClientOptions) { o.HTTPClient = client }
}

func WithCredentials(store credentials.Store) ClientOption {
	return func(o *ClientOptions) { o.Credentials = store }
}

type Client struct {
	baseURL *url.URL
	options ClientOptions
}

func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid backend url: %w", err)
	} else if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("invalid backend url scheme %q", parsed.Scheme)
	}

	options := ClientOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if options.HTTPClient == nil {
		options.HTTPClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return "backend " + r.Method + " " + r.URL.Path
			}),
		)}
	}

	return &Client{baseURL: parsed, options: options}, nil
}

// WebsocketURL resolves a streaming endpoint path against the backend URL,
// switching the scheme to ws or wss.
func (c *Client) WebsocketURL(path string) string {
	endpoint := c.resolve(path)
	switch endpoint.Scheme {
	case "https":
		endpoint.Scheme = "wss"
	default:
		endpoint.Scheme = "ws"
	}
	return endpoint.String()
}

func (c *Client) ListScenarios(ctx context.Context) ([]Scenario, error) {
	var scenarios []Scenario
	if err := c.do(ctx, http.MethodGet, coachPrefix+"/scenario", nil, &scenarios); err != nil {
		return nil, err
	}
	return scenarios, nil
}

// ListConversations returns the conversations started by userID.
func (c *Client) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id must not be empty")
	}

	var conversations []Conversation
	path := coachPrefix + "/conversation/user/" + url.PathEscape(userID)
	if err := c.do(ctx, http.MethodGet, path, nil, &conversations); err != nil {
		return nil, err
	}
	return conversations, nil
}

func (c *Client) CreateConversation(ctx context.Context, create ConversationCreate) (Conversation, error) {
	var conversation Conversation
	if err := c.do(ctx, http.MethodPost, coachPrefix+"/conversation", create, &conversation); err != nil {
		return Conversation{}, err
	}
	return conversation, nil
}

// ListMessages returns the stored messages of a conversation. The path
// follows the singular /coach/conversation routes.
func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	var messages []Message
	path := coachPrefix + "/conversation/" + url.PathEscape(conversationID) + "/message"
	if err := c.do(ctx, http.MethodGet, path, nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func (c *Client) resolve(path string) *url.URL {
	endpoint := *c.baseURL
	endpoint.Path = strings.TrimSuffix(endpoint.Path, "/") + "/" + strings.TrimPrefix(path, "/")
	return &endpoint
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) (err error) {
	endpoint := c.resolve(path)
	ctx, span := tracer.Start(ctx, "backend request")
	defer span.End()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()
	span.SetAttributes(attribute.String("request.method", method), attribute.String("request.url", endpoint.String()))

	var requestBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("error marshalling request body: %w", err)
		}
		requestBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), requestBody)
	if err != nil {
		return fmt.Errorf("error creating HTTP request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	authorization, err := credentials.BearerHeader(ctx, c.options.Credentials)
	if err != nil {
		return fmt.Errorf("error reading credentials: %w", err)
	} else if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}

	resp, err := c.options.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("response.status_code", resp.StatusCode))
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var errorBody struct {
			Message string `json:"message"`
			Detail  any    `json:"detail"`
		}
		if json.Unmarshal(respBody, &errorBody) == nil {
			apiErr.Message = errorBody.Message
			if apiErr.Message == "" && errorBody.Detail != nil {
				apiErr.Message = fmt.Sprint(errorBody.Detail)
			}
		}
		logger.Debug("backend request failed", "method", method, "path", path, "status", resp.StatusCode)
		return apiErr
	}

	if out == nil {
		return nil
	}
	response := envelope[json.RawMessage]{}
	if err := json.Unmarshal(respBody, &response); err != nil {
		return fmt.Errorf("error unmarshalling response: %w", err)
	}
	if len(response.Data) == 0 || string(response.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(response.Data, out); err != nil {
		return fmt.Errorf("error unmarshalling response data: %w", err)
	}
	return nil
}
