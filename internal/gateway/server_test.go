package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hxqlab/agentrelay/internal/config"
	"github.com/hxqlab/agentrelay/pkg/protocol"
)

type captureSubmitter struct {
	msgs []*protocol.InboundMessage
}

func (c *captureSubmitter) Submit(ctx context.Context, msg *protocol.InboundMessage) {
	c.msgs = append(c.msgs, msg)
}

func testServer(cfg config.GatewayConfig) (*Server, *captureSubmitter) {
	s := NewServer(cfg)
	sub := &captureSubmitter{}
	s.SetDispatcher(sub)
	return s, sub
}

func post(t *testing.T, s *Server, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.handleMessages(rec, req)
	return rec
}

func TestHandleMessagesAccepts(t *testing.T) {
	s, sub := testServer(config.GatewayConfig{})

	rec := post(t, s, `{"sender": "u1", "text": "hello"}`, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("code = %d, body = %s", rec.Code, rec.Body.String())
	}
	if len(sub.msgs) != 1 || sub.msgs[0].Sender != "u1" {
		t.Fatalf("msgs = %+v", sub.msgs)
	}
	if sub.msgs[0].ID == "" {
		t.Fatal("server must assign an id when the transport sends none")
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["id"] != sub.msgs[0].ID {
		t.Fatalf("response id = %q, want %q", resp["id"], sub.msgs[0].ID)
	}
}

func TestHandleMessagesKeepsTransportID(t *testing.T) {
	s, sub := testServer(config.GatewayConfig{})

	post(t, s, `{"id": "wx-42", "sender": "u1", "text": "hi"}`, nil)
	if len(sub.msgs) != 1 || sub.msgs[0].ID != "wx-42" {
		t.Fatalf("msgs = %+v", sub.msgs)
	}
}

func TestHandleMessagesRejectsBadInput(t *testing.T) {
	s, sub := testServer(config.GatewayConfig{})

	if rec := post(t, s, `{broken`, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad json code = %d", rec.Code)
	}
	if rec := post(t, s, `{"text": "no sender"}`, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing sender code = %d", rec.Code)
	}
	if len(sub.msgs) != 0 {
		t.Fatalf("msgs = %+v, want none", sub.msgs)
	}
}

func TestHandleMessagesAuth(t *testing.T) {
	s, sub := testServer(config.GatewayConfig{Token: "secret"})

	if rec := post(t, s, `{"sender": "u1", "text": "hi"}`, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated code = %d", rec.Code)
	}
	if rec := post(t, s, `{"sender": "u1", "text": "hi"}`,
		map[string]string{"Authorization": "Bearer wrong"}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token code = %d", rec.Code)
	}
	rec := post(t, s, `{"sender": "u1", "text": "hi"}`,
		map[string]string{"Authorization": "Bearer secret"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("valid token code = %d", rec.Code)
	}
	if len(sub.msgs) != 1 {
		t.Fatalf("msgs = %d", len(sub.msgs))
	}
}

func TestHandleMessagesRateLimit(t *testing.T) {
	s, _ := testServer(config.GatewayConfig{RateLimitRPM: 2})

	var limited bool
	for i := 0; i < 5; i++ {
		rec := post(t, s, `{"sender": "u1", "text": "hi"}`, nil)
		if rec.Code == http.StatusTooManyRequests {
			limited = true
		}
	}
	if !limited {
		t.Fatal("burst over the limit must be rejected")
	}

	// A different sender has its own budget.
	if rec := post(t, s, `{"sender": "u2", "text": "hi"}`, nil); rec.Code != http.StatusAccepted {
		t.Fatalf("other sender code = %d", rec.Code)
	}
}

func TestCheckOrigin(t *testing.T) {
	s, _ := testServer(config.GatewayConfig{AllowedOrigins: []string{"https://ops.example.com"}})

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "https://ops.example.com")
	if !s.checkOrigin(req) {
		t.Fatal("allowed origin must pass")
	}
	req.Header.Set("Origin", "https://evil.example.com")
	if s.checkOrigin(req) {
		t.Fatal("unlisted origin must be rejected")
	}

	open, _ := testServer(config.GatewayConfig{})
	if !open.checkOrigin(req) {
		t.Fatal("no origin list means any origin")
	}
}
