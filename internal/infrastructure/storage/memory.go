package storage

import (
	"context"
	"net/url"
	"slices"
	"sync"
	"time"
)

// MemoryObjectStorage keeps objects in a map. It backs tests and local runs
// without an S3 endpoint; upload URLs point at BaseURL and are never served.
type MemoryObjectStorage struct {
	BaseURL string

	mu      sync.RWMutex
	objects map[string]memoryObject
}

type memoryObject struct {
	data        []byte
	contentType string
}

// NewMemoryObjectStorage creates an empty store
func NewMemoryObjectStorage() *MemoryObjectStorage {
	return &MemoryObjectStorage{
		BaseURL: "https://storage.local",
		objects: make(map[string]memoryObject),
	}
}

// GenerateUploadURL returns a placeholder URL for storageKey
func (m *MemoryObjectStorage) GenerateUploadURL(
	ctx context.Context,
	storageKey, contentType string,
	expiresIn time.Duration,
) (string, time.Time, error) {
	if storageKey == "" {
		return "", time.Time{}, ErrStorageKeyRequired
	}
	if expiresIn <= 0 {
		expiresIn = DefaultUploadURLExpiry
	}
	expiresAt := time.Now().Add(expiresIn)
	q := url.Values{}
	q.Set("expires", expiresAt.UTC().Format(time.RFC3339))
	if contentType != "" {
		q.Set("content_type", contentType)
	}
	return m.BaseURL + "/upload/" + storageKey + "?" + q.Encode(), expiresAt, nil
}

// ObjectExists reports whether storageKey was uploaded
func (m *MemoryObjectStorage) ObjectExists(ctx context.Context, storageKey string) (bool, error) {
	if storageKey == "" {
		return false, ErrStorageKeyRequired
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[storageKey]
	return ok, nil
}

// Upload stores a copy of data
func (m *MemoryObjectStorage) Upload(ctx context.Context, storageKey string, data []byte, contentType string) error {
	if storageKey == "" {
		return ErrStorageKeyRequired
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[storageKey] = memoryObject{data: slices.Clone(data), contentType: contentType}
	return nil
}

// Download returns a copy of the stored bytes
func (m *MemoryObjectStorage) Download(ctx context.Context, storageKey string) ([]byte, error) {
	if storageKey == "" {
		return nil, ErrStorageKeyRequired
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[storageKey]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return slices.Clone(obj.data), nil
}

// DeleteObject removes storageKey; deleting a missing key is not an error
func (m *MemoryObjectStorage) DeleteObject(ctx context.Context, storageKey string) error {
	if storageKey == "" {
		return ErrStorageKeyRequired
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, storageKey)
	return nil
}

// ContentType returns the content type recorded at upload
func (m *MemoryObjectStorage) ContentType(storageKey string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.objects[storageKey].contentType
}

// Keys lists stored keys in sorted order
func (m *MemoryObjectStorage) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
