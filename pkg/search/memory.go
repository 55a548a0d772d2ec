package search

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryIndex scores one point per field containing the query, case-insensitively.
type MemoryIndex struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

var _ Index = (*MemoryIndex)(nil)

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{entries: map[string]Entry{}}
}

func (m *MemoryIndex) Index(ctx context.Context, entry Entry) error {
	if entry.ID == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entry.ID] = entry
	return nil
}

func (m *MemoryIndex) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

func (m *MemoryIndex) Search(ctx context.Context, query string, maxResults int) ([]Hit, error) {
	term := strings.ToLower(strings.TrimSpace(query))
	if term == "" || maxResults <= 0 {
		return []Hit{}, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	hits := []Hit{}
	for _, entry := range m.entries {
		score := 0
		for _, field := range []string{entry.Name, entry.OriginalFileName, entry.OcrText} {
			if strings.Contains(strings.ToLower(field), term) {
				score++
			}
		}
		if score > 0 {
			hits = append(hits, Hit{ID: entry.ID, Score: float64(score)})
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score == hits[j].Score {
			return hits[i].ID < hits[j].ID
		}
		return hits[i].Score > hits[j].Score
	})
	if len(hits) > maxResults {
		hits = hits[:maxResults]
	}
	return hits, nil
}

func (m *MemoryIndex) Get(id string) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[id]
	return entry, ok
}
