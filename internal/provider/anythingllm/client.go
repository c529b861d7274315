// Package anythingllm implements the provider.Chat contract against the
// AnythingLLM developer API.
package anythingllm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/kwatson/querydesk/internal/config"
	"github.com/kwatson/querydesk/internal/provider"
)

// Client talks to an AnythingLLM instance over HTTP.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewClient creates a new AnythingLLM client.
func NewClient(cfg config.ProviderConfig) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *Client) Name() string { return "anythingllm" }

func (c *Client) GetWorkspace(ctx context.Context, workspaceID string) (*provider.Workspace, error) {
	u := fmt.Sprintf("%s/api/v1/workspace/%s", c.baseURL, url.PathEscape(workspaceID))

	var resp struct {
		Workspace *struct {
			ID   json.Number `json:"id"`
			Name string      `json:"name"`
			Slug string      `json:"slug"`
		} `json:"workspace"`
	}
	if err := c.do(ctx, http.MethodGet, u, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Workspace == nil {
		return nil, fmt.Errorf("%w: %s", provider.ErrWorkspaceNotFound, workspaceID)
	}
	return &provider.Workspace{
		ID:   resp.Workspace.ID.String(),
		Name: resp.Workspace.Name,
		Slug: resp.Workspace.Slug,
	}, nil
}

func (c *Client) CreateThread(ctx context.Context, workspaceID, name string) (*provider.Thread, error) {
	u := fmt.Sprintf("%s/api/v1/workspace/%s/thread/new", c.baseURL, url.PathEscape(workspaceID))

	body := map[string]string{"name": name}
	var resp struct {
		Thread *struct {
			Slug string `json:"slug"`
			Name string `json:"name"`
		} `json:"thread"`
		Message string `json:"message"`
	}
	if err := c.do(ctx, http.MethodPost, u, body, &resp); err != nil {
		return nil, threadErr(err)
	}
	if resp.Thread == nil {
		return nil, &provider.ThreadError{Msg: "upstream returned no thread: " + resp.Message}
	}
	return &provider.Thread{ID: resp.Thread.Slug, Name: resp.Thread.Name}, nil
}

func (c *Client) DeleteThread(ctx context.Context, workspaceID, threadID string) error {
	u := fmt.Sprintf("%s/api/v1/workspace/%s/thread/%s",
		c.baseURL, url.PathEscape(workspaceID), url.PathEscape(threadID))
	if err := c.do(ctx, http.MethodDelete, u, nil, nil); err != nil {
		return threadErr(err)
	}
	return nil
}

func (c *Client) SendMessage(ctx context.Context, workspaceID, threadID, text, mode string) (*provider.Message, error) {
	if mode == "" {
		mode = "query"
	}
	u := fmt.Sprintf("%s/api/v1/workspace/%s/thread/%s/chat",
		c.baseURL, url.PathEscape(workspaceID), url.PathEscape(threadID))

	body := map[string]string{"message": text, "mode": mode}
	var resp struct {
		ID           string `json:"id"`
		TextResponse string `json:"textResponse"`
		ChatID       string `json:"chatId"`
		Error        string `json:"error"`
		Sources      []struct {
			Title string  `json:"title"`
			Text  string  `json:"text"`
			Score float64 `json:"score"`
		} `json:"sources"`
	}
	if err := c.do(ctx, http.MethodPost, u, body, &resp); err != nil {
		return nil, messageErr(err)
	}
	if resp.Error != "" {
		return nil, &provider.MessageError{Msg: resp.Error}
	}

	msg := &provider.Message{
		ID:       resp.ID,
		Response: resp.TextResponse,
		ChatID:   resp.ChatID,
	}
	for _, s := range resp.Sources {
		msg.Sources = append(msg.Sources, provider.Source{Title: s.Title, Text: s.Text, Score: s.Score})
	}
	return msg, nil
}

// httpError carries an upstream non-2xx response before it is mapped to a
// typed provider error.
type httpError struct {
	status int
	body   string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.status, e.body)
}

func (c *Client) do(ctx context.Context, method, u string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return provider.ErrWorkspaceNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &httpError{status: resp.StatusCode, body: string(raw)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func threadErr(err error) error {
	var he *httpError
	if errors.As(err, &he) {
		return &provider.ThreadError{StatusCode: he.status, Msg: he.body}
	}
	return err
}

func messageErr(err error) error {
	var he *httpError
	if errors.As(err, &he) {
		return &provider.MessageError{StatusCode: he.status, Msg: he.body}
	}
	return err
}

var _ provider.Chat = (*Client)(nil)
