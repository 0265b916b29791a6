// Package dify is a client for Dify-compatible chat applications. It speaks
// the streaming chat-messages endpoint, file upload, and conversation
// deletion, and classifies HTTP failures into recoverable error classes.
package dify

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Client talks to one Dify application.
type Client struct {
	apiKey  string
	baseURL string
	httpc   *http.Client
}

// NewClient builds a client for the application at baseURL. Streaming
// responses can run long, so the client carries no overall timeout; callers
// bound requests with a context.
func NewClient(apiKey, baseURL string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{},
	}
}

// FileRef attaches an uploaded file to a chat request.
type FileRef struct {
	Type           string `json:"type"`
	TransferMethod string `json:"transfer_method"`
	UploadFileID   string `json:"upload_file_id"`
}

// ChatRequest is one streaming chat exchange.
type ChatRequest struct {
	Query          string
	ConversationID string
	User           string
	Inputs         map[string]any
	Files          []FileRef
}

// ChatResult is the assembled outcome of a consumed stream.
type ChatResult struct {
	Answer         string
	ConversationID string
	MessageID      string
	Files          []FileEvent
	Thoughts       []Thought
}

// ChatStream sends a chat request and consumes the SSE stream to completion,
// assembling the final answer. Incremental chunks append; message_replace
// discards everything accumulated so far.
func (c *Client) ChatStream(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	inputs := req.Inputs
	if inputs == nil {
		inputs = map[string]any{}
	}
	payload := map[string]any{
		"query":              req.Query,
		"inputs":             inputs,
		"response_mode":      "streaming",
		"conversation_id":    req.ConversationID,
		"user":               req.User,
		"auto_generate_name": false,
	}
	if len(req.Files) > 0 {
		payload["files"] = req.Files
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat-messages", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("dify: chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, classifyStatus(resp.StatusCode, strings.TrimSpace(string(b)))
	}

	result, err := consumeStream(resp.Body)
	if err != nil {
		return nil, err
	}
	slog.Debug("dify.chat_done",
		"conversation", result.ConversationID,
		"answer_len", len(result.Answer),
		"files", len(result.Files),
		"elapsed", time.Since(started))
	return result, nil
}

// consumeStream reads "data: " frames until EOF or message_end.
func consumeStream(r io.Reader) (*ChatResult, error) {
	var (
		result  ChatResult
		answer  strings.Builder
		scanner = bufio.NewScanner(r)
	)
	// Answer chunks are small but agent_thought observations can run long.
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev streamEvent
		if err := json.Unmarshal([]byte(line[len("data: "):]), &ev); err != nil {
			slog.Debug("dify.bad_frame", "err", err)
			continue
		}
		if ev.ConversationID != "" {
			result.ConversationID = ev.ConversationID
		}
		if ev.MessageID != "" {
			result.MessageID = ev.MessageID
		}

		switch ev.Event {
		case eventMessage, eventAgentMessage:
			answer.WriteString(ev.Answer)
		case eventMessageReplace:
			answer.Reset()
			answer.WriteString(ev.Answer)
		case eventMessageFile:
			result.Files = append(result.Files, FileEvent{ID: ev.ID, URL: ev.URL, Type: ev.Type})
		case eventAgentThought:
			if ev.Thought != "" || ev.Observation != "" {
				result.Thoughts = append(result.Thoughts, Thought{
					Position:    ev.Position,
					Thought:     ev.Thought,
					Tool:        ev.Tool,
					ToolInput:   ev.ToolInput,
					Observation: ev.Observation,
				})
			}
		case eventError:
			if ev.Status != 0 {
				return nil, classifyStatus(ev.Status, ev.Message)
			}
			return nil, fmt.Errorf("dify: stream error %s: %s", ev.Code, ev.Message)
		case eventMessageEnd, eventPing:
			// message_end carries ids already captured above; ping keeps
			// the connection alive.
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("dify: read stream: %w", err)
	}

	result.Answer = answer.String()
	return &result, nil
}
