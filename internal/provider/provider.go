// Package provider defines the contract with the upstream workspace/chat
// service that answers questions against ingested documents.
package provider

import (
	"context"
	"errors"
	"fmt"
)

// ErrWorkspaceNotFound is returned when the upstream does not know the
// workspace referenced by a request.
var ErrWorkspaceNotFound = errors.New("workspace not found")

// ThreadError is a failure creating or deleting a chat thread.
type ThreadError struct {
	StatusCode int
	Msg        string
}

func (e *ThreadError) Error() string {
	return fmt.Sprintf("thread error (status %d): %s", e.StatusCode, e.Msg)
}

// MessageError is a failure sending a message to a thread. It is recoverable
// at the question level: one failed send never aborts sibling questions.
type MessageError struct {
	StatusCode int
	Msg        string
}

func (e *MessageError) Error() string {
	return fmt.Sprintf("message error (status %d): %s", e.StatusCode, e.Msg)
}

// Workspace describes an upstream workspace.
type Workspace struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// Thread is a chat session scoped to a workspace. Question batches hold one
// thread for their whole lifetime.
type Thread struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Source is a document fragment the upstream cited in an answer.
type Source struct {
	Title string  `json:"title,omitempty"`
	Text  string  `json:"text,omitempty"`
	Score float64 `json:"score,omitempty"`
}

// Message is the upstream's answer to one question.
type Message struct {
	ID       string   `json:"id"`
	Response string   `json:"response"`
	Sources  []Source `json:"sources,omitempty"`
	ChatID   string   `json:"chat_id,omitempty"`
}

// Chat is the narrow upstream contract this system depends on. Never call a
// concrete client directly; always inject this interface.
type Chat interface {
	// GetWorkspace verifies a workspace exists and returns its details.
	GetWorkspace(ctx context.Context, workspaceID string) (*Workspace, error)
	// CreateThread opens a new chat thread in the workspace.
	CreateThread(ctx context.Context, workspaceID, name string) (*Thread, error)
	// DeleteThread discards a thread. Best effort; callers may ignore errors.
	DeleteThread(ctx context.Context, workspaceID, threadID string) error
	// SendMessage asks one question in the given thread and blocks until
	// the upstream answers or ctx is done.
	SendMessage(ctx context.Context, workspaceID, threadID, text, mode string) (*Message, error)
	// Name returns the provider identifier (e.g. "anythingllm").
	Name() string
}
