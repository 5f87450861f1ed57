package apiclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Tokens is the current session
type Tokens struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	TenantID     string    `json:"tenant_id"`
}

// TokenStore holds the session between calls
type TokenStore interface {
	Load() Tokens
	Save(Tokens)
	Clear()
}

// MemoryTokenStore keeps tokens for the life of the process
type MemoryTokenStore struct {
	mu     sync.RWMutex
	tokens Tokens
}

// NewMemoryTokenStore creates an empty store
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{}
}

func (s *MemoryTokenStore) Load() Tokens {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens
}

func (s *MemoryTokenStore) Save(t Tokens) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = t
}

func (s *MemoryTokenStore) Clear() {
	s.Save(Tokens{})
}

// FileTokenStore persists tokens to a 0600 JSON file so CLI invocations
// share a session
type FileTokenStore struct {
	mem  MemoryTokenStore
	path string
}

// NewFileTokenStore loads any session saved at path
func NewFileTokenStore(path string) (*FileTokenStore, error) {
	s := &FileTokenStore{path: path}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("reading session: %w", err)
	}
	var t Tokens
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parsing session %s: %w", path, err)
	}
	s.mem.Save(t)
	return s, nil
}

// DefaultSessionPath is the per-user session file
func DefaultSessionPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "scctl", "session.json")
}

func (s *FileTokenStore) Load() Tokens {
	return s.mem.Load()
}

// Save writes through to disk; a failed write keeps the in-memory session
func (s *FileTokenStore) Save(t Tokens) {
	s.mem.Save(t)
	_ = s.write(t)
}

func (s *FileTokenStore) Clear() {
	s.mem.Clear()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		_ = s.write(Tokens{})
	}
}

func (s *FileTokenStore) write(t Tokens) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}
