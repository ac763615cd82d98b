package ingestion

import (
	"context"
	"crypto/sha256"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/54b3r/ragflow-go/internal/docstore"
)

// hashEmbedder derives a deterministic vector from content so the memory
// store can be used without a real embedding backend.
type hashEmbedder struct{}

func (hashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		h := sha256.Sum256([]byte(text))
		vec := make([]float32, 8)
		for j := range vec {
			vec[j] = float32(h[j]) / 255
		}
		out[i] = vec
	}
	return out, nil
}

// pageServer serves mutable page content keyed by path.
type pageServer struct {
	mu    sync.Mutex
	pages map[string]string
	srv   *httptest.Server
}

func newPageServer(t *testing.T, pages map[string]string) *pageServer {
	t.Helper()
	ps := &pageServer{pages: pages}
	ps.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ps.mu.Lock()
		content, ok := ps.pages[r.URL.Path]
		ps.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(content))
	}))
	t.Cleanup(ps.srv.Close)
	return ps
}

func (ps *pageServer) set(path, content string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.pages[path] = content
}

func (ps *pageServer) url(path string) string { return ps.srv.URL + path }

// newTestPipeline wires a pipeline over a fresh in-memory store.
func newTestPipeline(t *testing.T, cleanup CleanupMode) (*Pipeline, *docstore.MemoryStore) {
	t.Helper()
	store, err := docstore.NewMemoryStore(hashEmbedder{})
	if err != nil {
		t.Fatalf("new memory store: %v", err)
	}
	p, err := NewPipeline(store, &Config{
		ChunkSize:    50,
		ChunkOverlap: 0,
		Cleanup:      cleanup,
	})
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	return p, store
}

func storedDigests(t *testing.T, store *docstore.MemoryStore) map[string]int {
	t.Helper()
	ctx := context.Background()
	ids, err := store.GetAllIDs(ctx)
	if err != nil {
		t.Fatalf("get all ids: %v", err)
	}
	docs, err := store.GetByIDs(ctx, ids)
	if err != nil {
		t.Fatalf("get by ids: %v", err)
	}
	out := make(map[string]int)
	for _, d := range docs {
		out[d.Digest()]++
	}
	return out
}

func Test_Ingestion_StampsMetadataAndDigest(t *testing.T) {
	t.Parallel()
	ps := newPageServer(t, map[string]string{
		"/posts/2023-06-23-agent/": "Agent memory splits into short-term context and long-term stores.",
	})
	p, store := newTestPipeline(t, CleanupNone)

	stats, err := p.Ingest(context.Background(), []Source{{URL: ps.url("/posts/2023-06-23-agent/")}}, nil)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if stats.Added == 0 {
		t.Fatal("nothing ingested")
	}

	ctx := context.Background()
	ids, _ := store.GetAllIDs(ctx)
	docs, err := store.GetByIDs(ctx, ids)
	if err != nil {
		t.Fatalf("get by ids: %v", err)
	}
	for _, d := range docs {
		if d.Digest() == "" {
			t.Error("chunk missing digest stamp")
		}
		if d.Metadata[docstore.MetaSource] == "" {
			t.Error("chunk missing source metadata")
		}
		if d.Metadata["topic"] != "agents" {
			t.Errorf("topic not inferred from url slug: %v", d.Metadata)
		}
		if d.Metadata["chunk_index"] == "" {
			t.Error("chunk missing index metadata")
		}
	}
}

func Test_Ingestion_CleanupNone_Accumulates(t *testing.T) {
	t.Parallel()
	ps := newPageServer(t, map[string]string{"/doc": "same content every time"})
	p, store := newTestPipeline(t, CleanupNone)
	ctx := context.Background()
	src := []Source{{URL: ps.url("/doc"), Topic: "agents"}}

	for range 2 {
		if _, err := p.Ingest(ctx, src, nil); err != nil {
			t.Fatalf("ingest: %v", err)
		}
	}

	for digest, n := range storedDigests(t, store) {
		if n != 2 {
			t.Errorf("cleanup=none must accumulate duplicates: digest %s stored %d times", digest, n)
		}
	}
}

func Test_Ingestion_CleanupIncremental_Idempotent(t *testing.T) {
	t.Parallel()
	ps := newPageServer(t, map[string]string{"/doc": "same content every time"})
	p, store := newTestPipeline(t, CleanupIncremental)
	ctx := context.Background()
	src := []Source{{URL: ps.url("/doc"), Topic: "agents"}}

	first, err := p.Ingest(ctx, src, nil)
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	second, err := p.Ingest(ctx, src, nil)
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}

	if second.Added != 0 || second.Deleted != 0 {
		t.Errorf("re-ingesting identical content must be a no-op: %+v", second)
	}
	if second.Skipped != first.Added {
		t.Errorf("all chunks should be skipped on re-ingest: %+v", second)
	}
	for digest, n := range storedDigests(t, store) {
		if n != 1 {
			t.Errorf("digest %s stored %d times, want 1", digest, n)
		}
	}
}

func Test_Ingestion_CleanupIncremental_ReplacesChangedChunks(t *testing.T) {
	t.Parallel()
	ps := newPageServer(t, map[string]string{
		"/doc":   "original content under fifty chars",
		"/other": "an unrelated page that never changes",
	})
	p, store := newTestPipeline(t, CleanupIncremental)
	ctx := context.Background()

	if _, err := p.Ingest(ctx, []Source{
		{URL: ps.url("/doc"), Topic: "agents"},
		{URL: ps.url("/other"), Topic: "agents"},
	}, nil); err != nil {
		t.Fatalf("seed ingest: %v", err)
	}

	ps.set("/doc", "rewritten content under fifty chars")
	stats, err := p.Ingest(ctx, []Source{{URL: ps.url("/doc"), Topic: "agents"}}, nil)
	if err != nil {
		t.Fatalf("re-ingest: %v", err)
	}

	if stats.Added != 1 || stats.Deleted != 1 {
		t.Errorf("changed chunk should be replaced: %+v", stats)
	}

	// The unrelated record must survive an incremental pass that doesn't
	// include its source.
	docs := storedDigests(t, store)
	oldDigest := docstore.Digest("original content under fifty chars", map[string]string{
		docstore.MetaSource: ps.url("/doc"), "topic": "agents", "chunk_index": "0",
	})
	newDigest := docstore.Digest("rewritten content under fifty chars", map[string]string{
		docstore.MetaSource: ps.url("/doc"), "topic": "agents", "chunk_index": "0",
	})
	if docs[oldDigest] != 0 {
		t.Error("stale chunk survived incremental replacement")
	}
	if docs[newDigest] != 1 {
		t.Error("replacement chunk missing")
	}
	if len(docs) != 2 {
		t.Errorf("unrelated record should be untouched, store holds %d digests", len(docs))
	}
}

func Test_Ingestion_CleanupFull_Resynchronizes(t *testing.T) {
	t.Parallel()
	ps := newPageServer(t, map[string]string{
		"/keep": "content that stays in the batch",
		"/drop": "content that leaves the batch",
	})
	p, store := newTestPipeline(t, CleanupFull)
	ctx := context.Background()

	if _, err := p.Ingest(ctx, []Source{
		{URL: ps.url("/keep"), Topic: "agents"},
		{URL: ps.url("/drop"), Topic: "agents"},
	}, nil); err != nil {
		t.Fatalf("seed ingest: %v", err)
	}

	stats, err := p.Ingest(ctx, []Source{{URL: ps.url("/keep"), Topic: "agents"}}, nil)
	if err != nil {
		t.Fatalf("resync ingest: %v", err)
	}

	if stats.Deleted != 1 {
		t.Errorf("record absent from the batch must be deleted: %+v", stats)
	}
	if stats.Added != 0 {
		t.Errorf("unchanged record must not be re-added: %+v", stats)
	}
	if got := len(storedDigests(t, store)); got != 1 {
		t.Errorf("store should hold exactly the incoming batch, got %d digests", got)
	}
}

func Test_Ingestion_CleanupFull_CollapsesAccumulatedDuplicates(t *testing.T) {
	t.Parallel()
	ps := newPageServer(t, map[string]string{"/doc": "same content every time"})
	ctx := context.Background()
	src := []Source{{URL: ps.url("/doc"), Topic: "agents"}}

	// Accumulate duplicates under cleanup=none, then resync the same store
	// with a full pass over the identical batch.
	accumulate, store := newTestPipeline(t, CleanupNone)
	for range 2 {
		if _, err := accumulate.Ingest(ctx, src, nil); err != nil {
			t.Fatalf("accumulate ingest: %v", err)
		}
	}

	resync, err := NewPipeline(store, &Config{ChunkSize: 50, Cleanup: CleanupFull})
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	stats, err := resync.Ingest(ctx, src, nil)
	if err != nil {
		t.Fatalf("resync ingest: %v", err)
	}

	if stats.Added != 0 {
		t.Errorf("unchanged content must not be re-added: %+v", stats)
	}
	if stats.Deleted != 1 {
		t.Errorf("surplus duplicate must be deleted: %+v", stats)
	}
	for digest, n := range storedDigests(t, store) {
		if n != 1 {
			t.Errorf("digest %s stored %d times after full cleanup, want exactly 1", digest, n)
		}
	}
}

func Test_Ingestion_FetchFailureAbortsBatch(t *testing.T) {
	t.Parallel()
	ps := newPageServer(t, map[string]string{"/ok": "fine content"})
	p, store := newTestPipeline(t, CleanupIncremental)

	_, err := p.Ingest(context.Background(), []Source{
		{URL: ps.url("/ok"), Topic: "agents"},
		{URL: ps.url("/missing"), Topic: "agents"},
	}, nil)
	if err == nil {
		t.Fatal("404 fetch must fail the batch")
	}

	// Nothing is written when any fetch fails.
	ids, _ := store.GetAllIDs(context.Background())
	if len(ids) != 0 {
		t.Errorf("failed batch must not write partial results: %d records", len(ids))
	}
}

func Test_Ingestion_ParseCleanupMode(t *testing.T) {
	t.Parallel()

	if m, err := ParseCleanupMode(""); err != nil || m != CleanupIncremental {
		t.Errorf("empty mode should default to incremental, got %q, %v", m, err)
	}
	if _, err := ParseCleanupMode("aggressive"); err == nil {
		t.Error("unknown mode should be rejected")
	}
}

func Test_Ingestion_InferMetadata(t *testing.T) {
	t.Parallel()

	cases := []struct {
		url       string
		wantTopic string
		wantType  string
	}{
		{"https://lilianweng.github.io/posts/2023-06-23-agent/", "agents", "post"},
		{"https://lilianweng.github.io/posts/2023-03-15-prompt-engineering/", "prompt engineering", "post"},
		{"https://lilianweng.github.io/posts/2021-10-25-adv-attack-llm/", "adversarial attacks", "post"},
		{"https://example.com/guides/vector-databases", "vector databases", "reference"},
		{"://bad url", "general", "reference"},
	}

	for _, tc := range cases {
		got := InferMetadata(tc.url)
		if got.Topic != tc.wantTopic {
			t.Errorf("InferMetadata(%q).Topic = %q, want %q", tc.url, got.Topic, tc.wantTopic)
		}
		if got.DocType != tc.wantType {
			t.Errorf("InferMetadata(%q).DocType = %q, want %q", tc.url, got.DocType, tc.wantType)
		}
	}
}
