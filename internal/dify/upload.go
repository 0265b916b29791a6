package dify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
)

// UploadResult identifies a file accepted by the server.
type UploadResult struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// UploadFile pushes raw file bytes to the files endpoint for later use in a
// chat request.
func (c *Client) UploadFile(ctx context.Context, user, filename, mimeType string, data []byte) (*UploadResult, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if err := w.WriteField("user", user); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/files/upload", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dify: upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, classifyStatus(resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var out UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("dify: decode upload response: %w", err)
	}
	if out.Type == "" {
		out.Type = KindForFile(filename, mimeType)
	}
	return &out, nil
}

// DeleteConversation removes a server-side conversation. A 404 is treated as
// success: the conversation is gone either way.
func (c *Client) DeleteConversation(ctx context.Context, conversationID, user string) error {
	payload, err := json.Marshal(map[string]string{"user": user})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		c.baseURL+"/conversations/"+conversationID, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("dify: delete conversation: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return classifyStatus(resp.StatusCode, strings.TrimSpace(string(b)))
	}
}

var kindByExt = map[string]string{
	".txt": "document", ".md": "document", ".markdown": "document",
	".pdf": "document", ".html": "document", ".htm": "document",
	".xlsx": "document", ".xls": "document", ".docx": "document",
	".doc": "document", ".csv": "document", ".pptx": "document",
	".ppt": "document", ".xml": "document", ".epub": "document",

	".jpg": "image", ".jpeg": "image", ".png": "image",
	".gif": "image", ".webp": "image", ".svg": "image",

	".mp3": "audio", ".m4a": "audio", ".wav": "audio",
	".amr": "audio", ".webm": "audio",

	".mp4": "video", ".mov": "video", ".mpeg": "video", ".mpga": "video",
}

// KindForFile maps a filename (and MIME type fallback) to the server's file
// kind taxonomy. Unknown files are "custom".
func KindForFile(filename, mimeType string) string {
	if kind, ok := kindByExt[strings.ToLower(filepath.Ext(filename))]; ok {
		return kind
	}
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return "image"
	case strings.HasPrefix(mimeType, "audio/"):
		return "audio"
	case strings.HasPrefix(mimeType, "video/"):
		return "video"
	case strings.HasPrefix(mimeType, "text/"):
		return "document"
	default:
		return "custom"
	}
}
