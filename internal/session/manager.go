// Package session owns conversation continuity: it maps conversation keys to
// server-side conversation ids and recovers from the failure classes the
// backend can return mid-conversation.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hxqlab/agentrelay/internal/dify"
	"github.com/hxqlab/agentrelay/internal/registry"
	"github.com/hxqlab/agentrelay/internal/store"
)

// Failure is a classified exchange failure carrying the user-facing notice.
type Failure struct {
	Kind   string
	Notice string
	cause  error
}

func (f *Failure) Error() string {
	if f.cause != nil {
		return fmt.Sprintf("session: %s: %v", f.Kind, f.cause)
	}
	return "session: " + f.Kind
}

func (f *Failure) Unwrap() error { return f.cause }

// Failure kinds.
const (
	FailUnavailable = "unavailable"
	FailExpired     = "expired"
	FailRejected    = "rejected"
	FailUnexpected  = "unexpected"
	FailInternal    = "internal"
)

const unavailableNotice = "服务暂时不可用，请稍后再试。"

// Result is a successful exchange.
type Result struct {
	Answer         string
	Files          []dify.FileEvent
	ConversationID string
}

// chatClient is the slice of dify.Client the manager uses; swapped in tests.
type chatClient interface {
	ChatStream(ctx context.Context, req dify.ChatRequest) (*dify.ChatResult, error)
	DeleteConversation(ctx context.Context, conversationID, user string) error
}

// Manager runs chat exchanges with continuity and recovery. One client is
// cached per agent.
type Manager struct {
	backend store.Backend

	mu      sync.Mutex
	clients map[string]chatClient

	// ResetNotifier, when set, is called with the conversation key whenever
	// a rejected conversation id forces a hard reset.
	ResetNotifier func(convKey string)

	newClient func(a *registry.Agent) chatClient
	sleep     func(d time.Duration)
}

// NewManager builds a session manager over the given persistence backend.
func NewManager(backend store.Backend) *Manager {
	return &Manager{
		backend: backend,
		clients: make(map[string]chatClient),
		newClient: func(a *registry.Agent) chatClient {
			return dify.NewClient(a.APIKey, a.BaseURL)
		},
		sleep: time.Sleep,
	}
}

func (m *Manager) client(a *registry.Agent) chatClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.clients[a.ID]; ok {
		return c
	}
	c := m.newClient(a)
	m.clients[a.ID] = c
	return c
}

// Exchange runs one chat exchange under the conversation key, recovering
// from expired and rejected conversation ids with at most one retry each.
// Any returned error is a *Failure.
func (m *Manager) Exchange(ctx context.Context, agent *registry.Agent, convKey, user, query string, files []dify.FileRef) (result *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("session.panic", "agent", agent.ID, "key", convKey, "panic", r)
			result, err = nil, &Failure{Kind: FailInternal, Notice: unavailableNotice}
		}
	}()

	stored, serr := m.backend.Conversation(convKey)
	if serr != nil {
		slog.Warn("session.load_failed", "key", convKey, "err", serr)
	}
	// A key last served by a different agent must not reuse its
	// conversation id.
	convID := stored.ID
	if stored.AgentID != "" && stored.AgentID != agent.ID {
		convID = ""
	}

	c := m.client(agent)
	req := dify.ChatRequest{Query: query, ConversationID: convID, User: user, Files: files}

	res, cerr := c.ChatStream(ctx, req)
	if cerr != nil {
		switch {
		case errors.Is(cerr, dify.ErrSessionExpired):
			return m.retryExpired(ctx, c, agent, convKey, req, cerr)
		case errors.Is(cerr, dify.ErrMalformedRequest):
			return m.retryRejected(ctx, c, agent, convKey, req, cerr)
		case errors.Is(cerr, dify.ErrServiceUnavailable):
			slog.Error("session.unavailable", "agent", agent.ID, "err", cerr)
			return nil, &Failure{Kind: FailUnavailable, Notice: unavailableNotice, cause: cerr}
		default:
			var se *dify.StatusError
			if errors.As(cerr, &se) {
				slog.Error("session.unexpected_status", "agent", agent.ID, "status", se.Status)
				return nil, &Failure{
					Kind:   FailUnexpected,
					Notice: fmt.Sprintf("请求失败 (%d): %s", se.Status, se.Body),
					cause:  cerr,
				}
			}
			return nil, &Failure{Kind: FailUnexpected, Notice: unavailableNotice, cause: cerr}
		}
	}

	m.remember(convKey, agent.ID, convID, res.ConversationID)
	logThoughts(agent.ID, res.Thoughts)
	return &Result{Answer: res.Answer, Files: res.Files, ConversationID: res.ConversationID}, nil
}

// logThoughts records which tools an agent-mode application invoked.
func logThoughts(agentID string, thoughts []dify.Thought) {
	for _, th := range thoughts {
		if th.Tool != "" {
			slog.Debug("session.tool_used", "agent", agentID, "tool", th.Tool, "position", th.Position)
		}
	}
}

// retryExpired handles a 404: drop the stale id and retry once with a fresh
// conversation.
func (m *Manager) retryExpired(ctx context.Context, c chatClient, agent *registry.Agent, convKey string, req dify.ChatRequest, cause error) (*Result, error) {
	slog.Warn("session.expired", "agent", agent.ID, "key", convKey)
	if err := m.backend.ClearConversation(convKey); err != nil {
		slog.Warn("session.clear_failed", "key", convKey, "err", err)
	}

	req.ConversationID = ""
	res, err := c.ChatStream(ctx, req)
	if err != nil {
		slog.Error("session.expired_retry_failed", "agent", agent.ID, "err", err)
		return nil, &Failure{Kind: FailExpired, Notice: unavailableNotice, cause: errors.Join(cause, err)}
	}
	m.remember(convKey, agent.ID, "", res.ConversationID)
	return &Result{Answer: res.Answer, Files: res.Files, ConversationID: res.ConversationID}, nil
}

// retryRejected handles a 400: the stored id is unusable (typically bound to
// another application). Force a brand-new conversation id, notify, pause
// briefly for server-side settling, and retry once.
func (m *Manager) retryRejected(ctx context.Context, c chatClient, agent *registry.Agent, convKey string, req dify.ChatRequest, cause error) (*Result, error) {
	slog.Warn("session.rejected", "agent", agent.ID, "key", convKey)
	if err := m.backend.ClearConversation(convKey); err != nil {
		slog.Warn("session.clear_failed", "key", convKey, "err", err)
	}
	if m.ResetNotifier != nil {
		m.ResetNotifier(convKey)
	}

	fresh := uuid.NewString()
	if err := m.backend.SetConversation(convKey, store.Conversation{ID: fresh, AgentID: agent.ID}); err != nil {
		slog.Warn("session.save_failed", "key", convKey, "err", err)
	}
	m.sleep(time.Second)

	req.ConversationID = fresh
	res, err := c.ChatStream(ctx, req)
	if err != nil {
		slog.Error("session.rejected_retry_failed", "agent", agent.ID, "err", err)
		return nil, &Failure{Kind: FailRejected, Notice: unavailableNotice, cause: errors.Join(cause, err)}
	}
	m.remember(convKey, agent.ID, fresh, res.ConversationID)
	return &Result{Answer: res.Answer, Files: res.Files, ConversationID: res.ConversationID}, nil
}

// remember persists the conversation id when the server issued or changed it.
func (m *Manager) remember(convKey, agentID, sent, got string) {
	if got == "" || got == sent {
		return
	}
	err := m.backend.SetConversation(convKey, store.Conversation{ID: got, AgentID: agentID})
	if err != nil {
		slog.Warn("session.save_failed", "key", convKey, "err", err)
	}
}

// Reset deletes the server-side conversation and the stored id for a key.
// A nil agent clears the stored id only.
func (m *Manager) Reset(ctx context.Context, agent *registry.Agent, convKey, user string) error {
	stored, err := m.backend.Conversation(convKey)
	if err != nil {
		return err
	}
	if stored.ID != "" && agent != nil {
		if err := m.client(agent).DeleteConversation(ctx, stored.ID, user); err != nil {
			slog.Warn("session.delete_failed", "agent", agent.ID, "err", err)
		}
	}
	return m.backend.ClearConversation(convKey)
}
