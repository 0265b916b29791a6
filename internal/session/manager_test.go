package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/hxqlab/agentrelay/internal/dify"
	"github.com/hxqlab/agentrelay/internal/registry"
	"github.com/hxqlab/agentrelay/internal/store"
)

type memBackend struct {
	prefs         []byte
	conversations map[string]store.Conversation
}

func newMemBackend() *memBackend {
	return &memBackend{conversations: make(map[string]store.Conversation)}
}

func (b *memBackend) SavePreferences(blob []byte) error { b.prefs = blob; return nil }
func (b *memBackend) LoadPreferences() ([]byte, error)  { return b.prefs, nil }
func (b *memBackend) Conversation(key string) (store.Conversation, error) {
	return b.conversations[key], nil
}
func (b *memBackend) SetConversation(key string, c store.Conversation) error {
	b.conversations[key] = c
	return nil
}
func (b *memBackend) ClearConversation(key string) error {
	delete(b.conversations, key)
	return nil
}
func (b *memBackend) Close() error { return nil }

// fakeClient scripts one response (or error) per call.
type fakeClient struct {
	calls   []dify.ChatRequest
	results []func(req dify.ChatRequest) (*dify.ChatResult, error)
	deleted []string
}

func (f *fakeClient) ChatStream(ctx context.Context, req dify.ChatRequest) (*dify.ChatResult, error) {
	f.calls = append(f.calls, req)
	if len(f.results) == 0 {
		return nil, fmt.Errorf("unscripted call %d", len(f.calls))
	}
	next := f.results[0]
	f.results = f.results[1:]
	return next(req)
}

func (f *fakeClient) DeleteConversation(ctx context.Context, conversationID, user string) error {
	f.deleted = append(f.deleted, conversationID)
	return nil
}

func ok(answer, convID string) func(dify.ChatRequest) (*dify.ChatResult, error) {
	return func(dify.ChatRequest) (*dify.ChatResult, error) {
		return &dify.ChatResult{Answer: answer, ConversationID: convID}, nil
	}
}

func fail(err error) func(dify.ChatRequest) (*dify.ChatResult, error) {
	return func(dify.ChatRequest) (*dify.ChatResult, error) { return nil, err }
}

func testManager(backend store.Backend, fc *fakeClient) *Manager {
	m := NewManager(backend)
	m.newClient = func(a *registry.Agent) chatClient { return fc }
	m.sleep = func(time.Duration) {}
	return m
}

var testAgent = &registry.Agent{ID: "coder", BaseURL: "http://x/v1"}

func TestExchangeStoresIssuedConversationID(t *testing.T) {
	backend := newMemBackend()
	fc := &fakeClient{results: []func(dify.ChatRequest) (*dify.ChatResult, error){ok("hi", "c-new")}}
	m := testManager(backend, fc)

	res, err := m.Exchange(context.Background(), testAgent, "k1", "u1", "hello", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Answer != "hi" || res.ConversationID != "c-new" {
		t.Fatalf("result = %+v", res)
	}
	if c := backend.conversations["k1"]; c.ID != "c-new" || c.AgentID != "coder" {
		t.Fatalf("stored = %+v", c)
	}

	// Second exchange reuses the stored id.
	fc.results = append(fc.results, ok("again", "c-new"))
	if _, err := m.Exchange(context.Background(), testAgent, "k1", "u1", "more", nil); err != nil {
		t.Fatal(err)
	}
	if got := fc.calls[1].ConversationID; got != "c-new" {
		t.Fatalf("second call id = %q, want c-new", got)
	}
}

func TestExchangeExpiredRetriesOnceFresh(t *testing.T) {
	backend := newMemBackend()
	backend.conversations["k1"] = store.Conversation{ID: "c-stale", AgentID: "coder"}
	fc := &fakeClient{results: []func(dify.ChatRequest) (*dify.ChatResult, error){
		fail(fmt.Errorf("%w: gone", dify.ErrSessionExpired)),
		ok("fresh start", "c-fresh"),
	}}
	m := testManager(backend, fc)

	res, err := m.Exchange(context.Background(), testAgent, "k1", "u1", "hello", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Answer != "fresh start" {
		t.Fatalf("answer = %q", res.Answer)
	}
	if len(fc.calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(fc.calls))
	}
	if fc.calls[0].ConversationID != "c-stale" || fc.calls[1].ConversationID != "" {
		t.Fatalf("call ids = %q, %q", fc.calls[0].ConversationID, fc.calls[1].ConversationID)
	}
	if c := backend.conversations["k1"]; c.ID != "c-fresh" {
		t.Fatalf("stored = %+v", c)
	}
}

func TestExchangeExpiredRetryFailureIsTerminal(t *testing.T) {
	backend := newMemBackend()
	backend.conversations["k1"] = store.Conversation{ID: "c-stale", AgentID: "coder"}
	fc := &fakeClient{results: []func(dify.ChatRequest) (*dify.ChatResult, error){
		fail(fmt.Errorf("%w: gone", dify.ErrSessionExpired)),
		fail(fmt.Errorf("%w: still gone", dify.ErrSessionExpired)),
	}}
	m := testManager(backend, fc)

	_, err := m.Exchange(context.Background(), testAgent, "k1", "u1", "hello", nil)
	f, okf := err.(*Failure)
	if !okf || f.Kind != FailExpired {
		t.Fatalf("err = %v, want expired Failure", err)
	}
	if len(fc.calls) != 2 {
		t.Fatalf("calls = %d, want exactly 2 (no retry loop)", len(fc.calls))
	}
}

func TestExchangeRejectedForcesNewID(t *testing.T) {
	backend := newMemBackend()
	backend.conversations["k1"] = store.Conversation{ID: "c-bad", AgentID: "coder"}
	fc := &fakeClient{results: []func(dify.ChatRequest) (*dify.ChatResult, error){
		fail(fmt.Errorf("%w: wrong app", dify.ErrMalformedRequest)),
		ok("recovered", ""),
	}}
	m := testManager(backend, fc)

	var notified []string
	m.ResetNotifier = func(key string) { notified = append(notified, key) }

	res, err := m.Exchange(context.Background(), testAgent, "k1", "u1", "hello", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Answer != "recovered" {
		t.Fatalf("answer = %q", res.Answer)
	}
	if len(notified) != 1 || notified[0] != "k1" {
		t.Fatalf("notified = %v", notified)
	}
	retryID := fc.calls[1].ConversationID
	if retryID == "" || retryID == "c-bad" {
		t.Fatalf("retry id = %q, want freshly generated", retryID)
	}
	if c := backend.conversations["k1"]; c.ID != retryID {
		t.Fatalf("stored = %+v, want retry id persisted", c)
	}
}

func TestExchangeUnavailableNoRetry(t *testing.T) {
	backend := newMemBackend()
	fc := &fakeClient{results: []func(dify.ChatRequest) (*dify.ChatResult, error){
		fail(fmt.Errorf("%w: status 502", dify.ErrServiceUnavailable)),
	}}
	m := testManager(backend, fc)

	_, err := m.Exchange(context.Background(), testAgent, "k1", "u1", "hello", nil)
	f, okf := err.(*Failure)
	if !okf || f.Kind != FailUnavailable {
		t.Fatalf("err = %v, want unavailable Failure", err)
	}
	if len(fc.calls) != 1 {
		t.Fatalf("calls = %d, want 1 (no retry on 5xx)", len(fc.calls))
	}
	if f.Notice == "" {
		t.Fatal("failure must carry a user notice")
	}
}

func TestExchangeUnexpectedStatusSurfacesBody(t *testing.T) {
	backend := newMemBackend()
	fc := &fakeClient{results: []func(dify.ChatRequest) (*dify.ChatResult, error){
		fail(&dify.StatusError{Status: 418, Body: "teapot"}),
	}}
	m := testManager(backend, fc)

	_, err := m.Exchange(context.Background(), testAgent, "k1", "u1", "hello", nil)
	f, okf := err.(*Failure)
	if !okf || f.Kind != FailUnexpected {
		t.Fatalf("err = %v, want unexpected Failure", err)
	}
}

func TestExchangeAgentSwitchDropsForeignID(t *testing.T) {
	backend := newMemBackend()
	backend.conversations["k1"] = store.Conversation{ID: "c-other", AgentID: "writer"}
	fc := &fakeClient{results: []func(dify.ChatRequest) (*dify.ChatResult, error){ok("hi", "c-mine")}}
	m := testManager(backend, fc)

	if _, err := m.Exchange(context.Background(), testAgent, "k1", "u1", "hello", nil); err != nil {
		t.Fatal(err)
	}
	if got := fc.calls[0].ConversationID; got != "" {
		t.Fatalf("call id = %q, want empty when stored id belongs to another agent", got)
	}
	if c := backend.conversations["k1"]; c.ID != "c-mine" || c.AgentID != "coder" {
		t.Fatalf("stored = %+v", c)
	}
}

func TestReset(t *testing.T) {
	backend := newMemBackend()
	backend.conversations["k1"] = store.Conversation{ID: "c1", AgentID: "coder"}
	fc := &fakeClient{}
	m := testManager(backend, fc)

	if err := m.Reset(context.Background(), testAgent, "k1", "u1"); err != nil {
		t.Fatal(err)
	}
	if len(fc.deleted) != 1 || fc.deleted[0] != "c1" {
		t.Fatalf("deleted = %v", fc.deleted)
	}
	if _, ok := backend.conversations["k1"]; ok {
		t.Fatal("stored conversation must be cleared")
	}
}
