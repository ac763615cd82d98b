package docstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// record is the internal stored form of a document: content, metadata, and
// the embedding vector (never exposed to callers).
type record struct {
	content   string
	metadata  map[string]string
	embedding []float32
}

// MemoryStore is a DocumentStore held entirely in process memory, ranking
// search results by brute-force cosine similarity. It backs unit tests and
// local development where no Qdrant instance is available.
type MemoryStore struct {
	// embedder converts content and queries into vectors.
	embedder Embedder

	// mu guards records.
	mu sync.RWMutex

	// records maps store-assigned id to the stored record.
	records map[string]*record
}

// NewMemoryStore constructs an empty MemoryStore using the given embedder.
func NewMemoryStore(embedder Embedder) (*MemoryStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("docstore: embedder must not be nil")
	}
	return &MemoryStore{
		embedder: embedder,
		records:  make(map[string]*record),
	}, nil
}

// Add embeds and stores the documents, returning one new id per document in
// input order. Embedding happens before any record is inserted, so a failed
// call commits nothing.
func (s *MemoryStore) Add(ctx context.Context, docs []Document) ([]string, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}
	embeddings, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, storeErr("add", err)
	}
	if len(embeddings) != len(docs) {
		return nil, storeErr("add", fmt.Errorf("expected %d embeddings, got %d", len(docs), len(embeddings)))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, len(docs))
	for i, d := range docs {
		id := NewID()
		s.records[id] = &record{
			content:   d.Content,
			metadata:  cloneMetadata(d.Metadata),
			embedding: embeddings[i],
		}
		ids[i] = id
	}
	return ids, nil
}

// GetAllIDs returns every live id in unspecified order.
func (s *MemoryStore) GetAllIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	return ids, nil
}

// GetByIDs returns the documents that exist; missing ids are omitted.
func (s *MemoryStore) GetByIDs(ctx context.Context, ids []string) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := make([]Document, 0, len(ids))
	for _, id := range ids {
		rec, ok := s.records[id]
		if !ok {
			continue
		}
		docs = append(docs, Document{
			ID:       id,
			Content:  rec.content,
			Metadata: cloneMetadata(rec.metadata),
		})
	}
	return docs, nil
}

// Delete removes the records with the given ids; missing ids are a no-op.
func (s *MemoryStore) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		delete(s.records, id)
	}
	return nil
}

// Update replaces the record under id with new content and metadata.
// Delete-then-add internally; the id is preserved.
func (s *MemoryStore) Update(ctx context.Context, id, content string, metadata map[string]string) error {
	embeddings, err := s.embedder.Embed(ctx, []string{content})
	if err != nil {
		return storeErr("update", err)
	}
	if len(embeddings) != 1 {
		return storeErr("update", fmt.Errorf("expected 1 embedding, got %d", len(embeddings)))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, id)
	s.records[id] = &record{
		content:   content,
		metadata:  cloneMetadata(metadata),
		embedding: embeddings[0],
	}
	return nil
}

// Search embeds the query and returns up to k documents ordered by
// descending cosine similarity.
func (s *MemoryStore) Search(ctx context.Context, query string, k int) ([]Document, error) {
	if k <= 0 {
		return nil, nil
	}
	embeddings, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, storeErr("search", err)
	}
	if len(embeddings) == 0 {
		return nil, storeErr("search", fmt.Errorf("embedder returned empty result"))
	}
	queryVec := embeddings[0]

	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		id    string
		score float32
	}
	candidates := make([]scored, 0, len(s.records))
	for id, rec := range s.records {
		candidates = append(candidates, scored{id: id, score: cosine(queryVec, rec.embedding)})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	if k > len(candidates) {
		k = len(candidates)
	}
	docs := make([]Document, 0, k)
	for _, c := range candidates[:k] {
		rec := s.records[c.id]
		docs = append(docs, Document{
			ID:       c.id,
			Content:  rec.content,
			Metadata: cloneMetadata(rec.metadata),
			Score:    c.score,
		})
	}
	return docs, nil
}

// HealthCheck always succeeds for an in-memory store.
func (s *MemoryStore) HealthCheck(ctx context.Context) bool { return true }

// Close is a no-op for an in-memory store.
func (s *MemoryStore) Close() error { return nil }

// cosine returns the cosine similarity of a and b. Mismatched lengths are
// compared over the shorter prefix; zero vectors score zero.
func cosine(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// cloneMetadata returns a defensive copy of m (nil-safe).
func cloneMetadata(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
