package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/analogj/lodestone-pipeline/pkg/model"
)

// MemoryStore keeps copies of the documents in a map. Used by tests and the memory driver.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]*model.Document
}

var _ DocumentStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: map[string]*model.Document{}}
}

func (m *MemoryStore) Create(ctx context.Context, doc *model.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.docs[doc.ID]; exists {
		return fmt.Errorf("document %s already exists", doc.ID)
	}
	doc.Version = 1
	m.docs[doc.ID] = doc.Clone()
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*model.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.docs[id]
	if !ok {
		return nil, model.ErrDocumentNotFound
	}
	return doc.Clone(), nil
}

func (m *MemoryStore) Save(ctx context.Context, doc *model.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.docs[doc.ID]
	if !ok {
		return model.ErrDocumentNotFound
	}
	if stored.Version != doc.Version {
		return model.ErrVersionConflict
	}
	doc.Version++
	m.docs[doc.ID] = doc.Clone()
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.docs[id]; !ok {
		return model.ErrDocumentNotFound
	}
	delete(m.docs, id)
	return nil
}

// List returns the documents newest first.
func (m *MemoryStore) List(ctx context.Context) ([]*model.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*model.Document, 0, len(m.docs))
	for _, doc := range m.docs {
		out = append(out, doc.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UploadTime.After(out[j].UploadTime)
	})
	return out, nil
}

func (m *MemoryStore) Close() error {
	return nil
}
