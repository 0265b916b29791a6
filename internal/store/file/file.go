// Package file implements store.Backend on top of JSON files with atomic
// writes (temp file then rename).
package file

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/hxqlab/agentrelay/internal/store"
)

const (
	prefsFile         = "preferences.json"
	conversationsFile = "conversations.json"
)

// Backend keeps conversations in memory and flushes every mutation to disk.
type Backend struct {
	dir string

	mu            sync.Mutex
	conversations map[string]store.Conversation
}

// New opens (creating if needed) a file backend rooted at dir.
func New(dir string) (*Backend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	b := &Backend{
		dir:           dir,
		conversations: make(map[string]store.Conversation),
	}
	if data, err := os.ReadFile(filepath.Join(dir, conversationsFile)); err == nil {
		// A corrupt file starts fresh rather than failing startup.
		_ = json.Unmarshal(data, &b.conversations)
	}
	return b, nil
}

func (b *Backend) SavePreferences(blob []byte) error {
	return writeAtomic(filepath.Join(b.dir, prefsFile), blob)
}

func (b *Backend) LoadPreferences() ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(b.dir, prefsFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	return data, err
}

func (b *Backend) Conversation(key string) (store.Conversation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conversations[key], nil
}

func (b *Backend) SetConversation(key string, c store.Conversation) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conversations[key] = c
	return b.flushLocked()
}

func (b *Backend) ClearConversation(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.conversations, key)
	return b.flushLocked()
}

func (b *Backend) Close() error { return nil }

func (b *Backend) flushLocked() error {
	data, err := json.MarshalIndent(b.conversations, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(filepath.Join(b.dir, conversationsFile), data)
}

// writeAtomic writes data via a temp file and rename so a crash mid-write
// never leaves a truncated snapshot.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "state-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	cleanup = false
	return nil
}
