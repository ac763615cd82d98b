package docstore

import (
	"context"
	"crypto/sha256"
	"testing"
)

// stubEmbedder is a deterministic Embedder for tests. Texts listed in the
// vectors table get their fixed vector; anything else gets a vector derived
// from its content hash so distinct texts rarely collide.
type stubEmbedder struct {
	// vectors maps exact text to a fixed embedding.
	vectors map[string][]float32
}

func (e *stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if v, ok := e.vectors[text]; ok {
			out[i] = v
			continue
		}
		h := sha256.Sum256([]byte(text))
		vec := make([]float32, 8)
		for j := range vec {
			vec[j] = float32(h[j]) / 255
		}
		out[i] = vec
	}
	return out, nil
}

// newTestStore constructs a MemoryStore over a stubEmbedder.
func newTestStore(t *testing.T) *MemoryStore {
	t.Helper()
	s, err := NewMemoryStore(&stubEmbedder{vectors: map[string][]float32{
		// "agents" documents cluster near the "agents" query vector.
		"what are the types of agent memory": {1, 0, 0},
		"agents have short and long memory":  {0.9, 0.1, 0},
		"agent planning uses episodic recall": {0.8, 0.2, 0},
		"prompt injection bypasses filters":  {0, 1, 0},
	}})
	if err != nil {
		t.Fatalf("new memory store: %v", err)
	}
	return s
}

func Test_MemoryStore_AddRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	meta := StampDigest("agents have short and long memory", map[string]string{"source": "notes.txt"})
	ids, err := s.Add(ctx, []Document{{Content: "agents have short and long memory", Metadata: meta}})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if len(ids) != 1 || ids[0] == "" {
		t.Fatalf("want 1 non-empty id, got %v", ids)
	}

	docs, err := s.GetByIDs(ctx, ids)
	if err != nil {
		t.Fatalf("get by ids: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("want 1 document, got %d", len(docs))
	}
	if docs[0].Content != "agents have short and long memory" {
		t.Errorf("content mismatch: %q", docs[0].Content)
	}
	if docs[0].Metadata["source"] != "notes.txt" {
		t.Errorf("metadata source mismatch: %q", docs[0].Metadata["source"])
	}
	if docs[0].Digest() == "" {
		t.Error("stamped digest missing from stored metadata")
	}
}

func Test_MemoryStore_GetByIDs_OmitsMissing(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	ids, err := s.Add(ctx, []Document{{Content: "agents have short and long memory"}})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	docs, err := s.GetByIDs(ctx, append(ids, "not-a-real-id"))
	if err != nil {
		t.Fatalf("get by ids: %v", err)
	}
	if len(docs) != 1 {
		t.Errorf("missing id should be omitted, not errored: got %d docs", len(docs))
	}
}

func Test_MemoryStore_DeleteCompleteness(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	ids, err := s.Add(ctx, []Document{
		{Content: "agents have short and long memory"},
		{Content: "prompt injection bypasses filters"},
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := s.Delete(ctx, ids); err != nil {
		t.Fatalf("delete: %v", err)
	}

	docs, err := s.GetByIDs(ctx, ids)
	if err != nil {
		t.Fatalf("get by ids: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("deleted ids still fetchable: %v", docs)
	}

	all, err := s.GetAllIDs(ctx)
	if err != nil {
		t.Fatalf("get all ids: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("deleted ids still listed: %v", all)
	}

	// Deleting a non-existent id is a no-op, not an error.
	if err := s.Delete(ctx, []string{"already-gone"}); err != nil {
		t.Errorf("delete of missing id errored: %v", err)
	}
}

func Test_MemoryStore_UpdatePreservesID(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	ids, err := s.Add(ctx, []Document{{Content: "agents have short and long memory", Metadata: map[string]string{"rev": "1"}}})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	newMeta := map[string]string{"rev": "2"}
	if err := s.Update(ctx, ids[0], "agent planning uses episodic recall", newMeta); err != nil {
		t.Fatalf("update: %v", err)
	}

	docs, err := s.GetByIDs(ctx, ids)
	if err != nil {
		t.Fatalf("get by ids: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("updated document not fetchable under original id")
	}
	if docs[0].Content != "agent planning uses episodic recall" {
		t.Errorf("update did not replace content: %q", docs[0].Content)
	}
	if docs[0].Metadata["rev"] != "2" {
		t.Errorf("update did not replace metadata: %v", docs[0].Metadata)
	}
}

func Test_MemoryStore_SearchRanksBySimilarity(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Add(ctx, []Document{
		{Content: "agents have short and long memory"},
		{Content: "agent planning uses episodic recall"},
		{Content: "prompt injection bypasses filters"},
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	docs, err := s.Search(ctx, "what are the types of agent memory", 2)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("want 2 results, got %d", len(docs))
	}
	if docs[0].Content != "agents have short and long memory" {
		t.Errorf("top result should be the closest vector, got %q", docs[0].Content)
	}
	if docs[0].Score < docs[1].Score {
		t.Errorf("results not in descending score order: %f < %f", docs[0].Score, docs[1].Score)
	}
}

func Test_MemoryStore_SearchKLargerThanStore(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Add(ctx, []Document{{Content: "agents have short and long memory"}}); err != nil {
		t.Fatalf("add: %v", err)
	}

	docs, err := s.Search(ctx, "what are the types of agent memory", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(docs) != 1 {
		t.Errorf("want 1 result, got %d", len(docs))
	}
}

func Test_MemoryStore_SearchNonPositiveK(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Add(ctx, []Document{{Content: "agents have short and long memory"}}); err != nil {
		t.Fatalf("add: %v", err)
	}

	for _, k := range []int{0, -1} {
		docs, err := s.Search(ctx, "agent memory", k)
		if err != nil {
			t.Fatalf("search with k=%d: %v", k, err)
		}
		if len(docs) != 0 {
			t.Errorf("k=%d must return no documents, got %d", k, len(docs))
		}
	}
}

func Test_MemoryStore_HealthCheck(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	if !s.HealthCheck(context.Background()) {
		t.Error("in-memory store should always be healthy")
	}
}

func Test_NewID_UUIDShape(t *testing.T) {
	t.Parallel()

	seen := make(map[string]bool)
	for range 100 {
		id := NewID()
		if len(id) != 36 || id[8] != '-' || id[13] != '-' || id[18] != '-' || id[23] != '-' {
			t.Fatalf("id %q is not canonical UUID form", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id generated: %s", id)
		}
		seen[id] = true
	}
}
