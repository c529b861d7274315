// Package mock provides configurable provider.Chat fakes for testing.
package mock

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/kwatson/querydesk/internal/provider"
)

// Chat satisfies provider.Chat for testing. Unset funcs fall back to benign
// defaults.
type Chat struct {
	Name_          string
	GetWorkspaceFn func(ctx context.Context, workspaceID string) (*provider.Workspace, error)
	CreateThreadFn func(ctx context.Context, workspaceID, name string) (*provider.Thread, error)
	DeleteThreadFn func(ctx context.Context, workspaceID, threadID string) error
	SendMessageFn  func(ctx context.Context, workspaceID, threadID, text, mode string) (*provider.Message, error)

	SendCalls   atomic.Int64
	DeleteCalls atomic.Int64
}

func (c *Chat) Name() string {
	if c.Name_ == "" {
		return "mock"
	}
	return c.Name_
}

func (c *Chat) GetWorkspace(ctx context.Context, workspaceID string) (*provider.Workspace, error) {
	if c.GetWorkspaceFn != nil {
		return c.GetWorkspaceFn(ctx, workspaceID)
	}
	return &provider.Workspace{ID: workspaceID, Name: workspaceID, Slug: workspaceID}, nil
}

func (c *Chat) CreateThread(ctx context.Context, workspaceID, name string) (*provider.Thread, error) {
	if c.CreateThreadFn != nil {
		return c.CreateThreadFn(ctx, workspaceID, name)
	}
	return &provider.Thread{ID: "thread-1", Name: name}, nil
}

func (c *Chat) DeleteThread(ctx context.Context, workspaceID, threadID string) error {
	c.DeleteCalls.Add(1)
	if c.DeleteThreadFn != nil {
		return c.DeleteThreadFn(ctx, workspaceID, threadID)
	}
	return nil
}

func (c *Chat) SendMessage(ctx context.Context, workspaceID, threadID, text, mode string) (*provider.Message, error) {
	c.SendCalls.Add(1)
	if c.SendMessageFn != nil {
		return c.SendMessageFn(ctx, workspaceID, threadID, text, mode)
	}
	return &provider.Message{ID: "msg-1", Response: "mock answer to: " + text}, nil
}

// NewAnswering returns a Chat whose answers are produced by fn.
func NewAnswering(fn func(text string) string) *Chat {
	var n atomic.Int64
	return &Chat{
		SendMessageFn: func(_ context.Context, _, _, text, _ string) (*provider.Message, error) {
			id := n.Add(1)
			return &provider.Message{
				ID:       fmt.Sprintf("msg-%d", id),
				Response: fn(text),
			}, nil
		},
	}
}

// NewFailing returns a Chat whose SendMessage always returns err.
func NewFailing(err error) *Chat {
	return &Chat{
		SendMessageFn: func(context.Context, string, string, string, string) (*provider.Message, error) {
			return nil, err
		},
	}
}

// NewBlocking returns a Chat whose SendMessage blocks until ctx is done,
// simulating an upstream that never answers within the deadline.
func NewBlocking() *Chat {
	return &Chat{
		SendMessageFn: func(ctx context.Context, _, _, _, _ string) (*provider.Message, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
}

var _ provider.Chat = (*Chat)(nil)
