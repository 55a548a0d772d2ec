package storage

import (
	"bytes"
	"context"
	"io"
	"io/ioutil"
	"sync"

	"github.com/analogj/lodestone-pipeline/pkg/model"
)

type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

var _ BlobStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: map[string][]byte{}}
}

func memoryKey(doc *model.Document) string {
	return doc.StorageBucket + "/" + doc.StorageObjectName
}

func (m *MemoryStore) Upload(ctx context.Context, doc *model.Document, content io.Reader) error {
	data, err := ioutil.ReadAll(content)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[memoryKey(doc)] = data
	return nil
}

func (m *MemoryStore) Download(ctx context.Context, doc *model.Document) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.objects[memoryKey(doc)]
	if !ok {
		return nil, model.ErrBlobNotFound
	}
	return ioutil.NopCloser(bytes.NewReader(data)), nil
}

func (m *MemoryStore) Delete(ctx context.Context, doc *model.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, memoryKey(doc))
	return nil
}

// Exists is used by tests to check rollbacks.
func (m *MemoryStore) Exists(doc *model.Document) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[memoryKey(doc)]
	return ok
}

func (m *MemoryStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
