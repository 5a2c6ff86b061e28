package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"mailagent/internal/domain"
)

// MemoryStore is an in-process StateStore and KnowledgeStore. State is lost
// on restart; intended for tests and local runs.
type MemoryStore struct {
	mu        sync.Mutex
	cursor    string
	hasCursor bool
	processed map[string]time.Time
	monotonic bool

	docs   map[string]domain.Document
	chunks map[string][]domain.DocumentChunk
}

var (
	_ domain.StateStore     = (*MemoryStore)(nil)
	_ domain.KnowledgeStore = (*MemoryStore)(nil)
)

func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{
		processed: make(map[string]time.Time),
		monotonic: opts.MonotonicCursor,
		docs:      make(map[string]domain.Document),
		chunks:    make(map[string][]domain.DocumentChunk),
	}
}

func (m *MemoryStore) LoadCursor(ctx context.Context) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursor, m.hasCursor, nil
}

func (m *MemoryStore) SaveCursor(ctx context.Context, cursor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.monotonic && m.hasCursor && !cursorAdvances(m.cursor, cursor) {
		return nil
	}
	m.cursor = cursor
	m.hasCursor = true
	return nil
}

func (m *MemoryStore) MarkProcessed(ctx context.Context, messageID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.processed[messageID]; ok {
		return false, nil
	}
	m.processed[messageID] = time.Now()
	return true, nil
}

func (m *MemoryStore) AddDocument(ctx context.Context, doc domain.Document, chunks []domain.DocumentChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc.ChunkCount = len(chunks)
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}
	m.docs[doc.ID] = doc
	m.chunks[doc.ID] = append([]domain.DocumentChunk(nil), chunks...)
	return nil
}

// Search scores chunks by the number of query terms they contain.
func (m *MemoryStore) Search(ctx context.Context, query string, topK int) ([]domain.KnowledgeSearchResult, error) {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil, nil
	}
	if topK <= 0 {
		topK = 3
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var results []domain.KnowledgeSearchResult
	for docID, chunks := range m.chunks {
		for _, c := range chunks {
			content := strings.ToLower(c.Content)
			score := 0
			for _, t := range terms {
				if strings.Contains(content, t) {
					score++
				}
			}
			if score == 0 {
				continue
			}
			results = append(results, domain.KnowledgeSearchResult{
				Chunk:   c,
				DocName: m.docs[docID].Name,
				Score:   float64(score),
			})
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Chunk.DocumentID != results[j].Chunk.DocumentID {
			return results[i].Chunk.DocumentID < results[j].Chunk.DocumentID
		}
		return results[i].Chunk.ChunkIndex < results[j].Chunk.ChunkIndex
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (m *MemoryStore) ListDocuments(ctx context.Context) ([]domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	docs := make([]domain.Document, 0, len(m.docs))
	for _, d := range m.docs {
		docs = append(docs, d)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

func (m *MemoryStore) DeleteDocument(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, id)
	delete(m.chunks, id)
	return nil
}

func (m *MemoryStore) Close() error { return nil }
