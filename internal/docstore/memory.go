package docstore

import (
	"context"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/example/ride-session/internal/models"
)

type memoryEntry struct {
	body    []byte
	version int64
}

// MemoryStore keeps documents in process. Bodies are stored encoded so
// readers never share memory with the stored revision.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]memoryEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]memoryEntry)}
}

func (m *MemoryStore) Create(ctx context.Context, doc models.Document) (string, error) {
	b, err := Encode(doc)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[id] = memoryEntry{body: b, version: 1}
	return id, nil
}

func (m *MemoryStore) Read(ctx context.Context, sessionID string) (models.Document, error) {
	doc, _, err := m.ReadVersion(ctx, sessionID)
	return doc, err
}

func (m *MemoryStore) ReadVersion(ctx context.Context, sessionID string) (models.Document, Version, error) {
	m.mu.RLock()
	e, ok := m.docs[sessionID]
	m.mu.RUnlock()
	if !ok {
		return models.Document{}, "", ErrNotFound
	}
	doc, err := Decode(e.body)
	if err != nil {
		return models.Document{}, "", err
	}
	return doc, Version(strconv.FormatInt(e.version, 10)), nil
}

func (m *MemoryStore) Replace(ctx context.Context, sessionID string, doc models.Document) error {
	return m.replace(sessionID, doc, "")
}

func (m *MemoryStore) ReplaceIf(ctx context.Context, sessionID string, doc models.Document, expected Version) error {
	if expected == "" {
		return ErrVersionMismatch
	}
	return m.replace(sessionID, doc, expected)
}

func (m *MemoryStore) replace(sessionID string, doc models.Document, expected Version) error {
	b, err := Encode(doc)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.docs[sessionID]
	if !ok {
		return ErrNotFound
	}
	if expected != "" && Version(strconv.FormatInt(e.version, 10)) != expected {
		return ErrVersionMismatch
	}
	m.docs[sessionID] = memoryEntry{body: b, version: e.version + 1}
	return nil
}
