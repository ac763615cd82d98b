// Package ingestion implements the knowledge-base ingestion pipeline.
// It fetches source pages, chunks the content, stamps each chunk with a
// content digest, and reconciles the result against the vector store using
// one of three cleanup modes. This pipeline is invoked by the `ragflow
// ingest` CLI command.
package ingestion

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/54b3r/ragflow-go/internal/docstore"
)

// CleanupMode selects how an ingestion batch is reconciled with records
// already in the store. The digest is the change-detection key; the source
// key (source URL + chunk index) is the identity key.
type CleanupMode string

const (
	// CleanupNone always inserts — duplicates accumulate.
	CleanupNone CleanupMode = "none"
	// CleanupIncremental skips unchanged chunks, replaces changed chunks
	// under the same source key, and leaves unrelated records alone.
	CleanupIncremental CleanupMode = "incremental"
	// CleanupFull resynchronizes the store to exactly the incoming batch.
	CleanupFull CleanupMode = "full"
)

// ParseCleanupMode validates a user-supplied cleanup mode string.
func ParseCleanupMode(s string) (CleanupMode, error) {
	switch CleanupMode(s) {
	case CleanupNone, CleanupIncremental, CleanupFull:
		return CleanupMode(s), nil
	case "":
		return CleanupIncremental, nil
	default:
		return "", fmt.Errorf("ingestion: unknown cleanup mode %q — valid values: none, incremental, full", s)
	}
}

// Source describes one page to be ingested.
type Source struct {
	// URL is the HTTP(S) URL of the page to fetch.
	URL string

	// Topic labels the knowledge-base topic this page covers (e.g.
	// "agents"). Empty means infer from the URL.
	Topic string
}

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// ChunkSize is the maximum number of characters per document chunk.
	// Defaults to 1000 if zero.
	ChunkSize int

	// ChunkOverlap is the number of characters to overlap between consecutive chunks.
	// Defaults to 100 if zero.
	ChunkOverlap int

	// Cleanup selects the reconciliation mode. Defaults to incremental.
	Cleanup CleanupMode

	// HTTPTimeout is the timeout for each page fetch request.
	// Defaults to 30s if zero.
	HTTPTimeout time.Duration

	// UserAgent is the HTTP User-Agent header sent with fetch requests.
	UserAgent string
}

// Pipeline orchestrates the fetch → chunk → digest → reconcile flow for a
// set of sources. Embedding happens inside the store at add time.
type Pipeline struct {
	// store persists the chunk documents.
	store docstore.DocumentStore

	// cfg holds the resolved pipeline configuration.
	cfg *Config

	// httpClient is the HTTP client used for fetching pages.
	httpClient *http.Client
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
func NewPipeline(store docstore.DocumentStore, cfg *Config) (*Pipeline, error) {
	if store == nil {
		return nil, fmt.Errorf("ingestion: store must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1000
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = 0
	}
	if cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = cfg.ChunkSize / 10
	}
	if cfg.Cleanup == "" {
		cfg.Cleanup = CleanupIncremental
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "ragflow-go/1.0 (knowledge base ingestion)"
	}

	return &Pipeline{
		store: store,
		cfg:   cfg,
		httpClient: &http.Client{
			Timeout: cfg.HTTPTimeout,
		},
	}, nil
}

// Stats summarizes what one Ingest call did to the store.
type Stats struct {
	// Added is the number of chunk documents inserted.
	Added int
	// Skipped is the number of incoming chunks left untouched because an
	// identical digest was already stored.
	Skipped int
	// Deleted is the number of stale records removed.
	Deleted int
}

// Ingest fetches, chunks, digests, and reconciles all provided sources as one
// batch. Sources are fetched sequentially; the first error aborts the whole
// call with nothing written. Progress is reported via the optional callback.
func (p *Pipeline) Ingest(ctx context.Context, sources []Source, progress func(msg string)) (Stats, error) {
	if progress == nil {
		progress = func(string) {}
	}

	var batch []docstore.Document
	for _, src := range sources {
		progress(fmt.Sprintf("fetching %s", src.URL))

		content, err := p.fetch(ctx, src.URL)
		if err != nil {
			return Stats{}, fmt.Errorf("ingestion: fetch failed for %s: %w", src.URL, err)
		}

		chunks := p.chunk(content)
		progress(fmt.Sprintf("chunked %s into %d chunks", src.URL, len(chunks)))

		topic := src.Topic
		if topic == "" {
			topic = InferMetadata(src.URL).Topic
		}

		for i, chunk := range chunks {
			meta := docstore.StampDigest(chunk, map[string]string{
				docstore.MetaSource: src.URL,
				"topic":             topic,
				"chunk_index":       fmt.Sprintf("%d", i),
			})
			batch = append(batch, docstore.Document{Content: chunk, Metadata: meta})
		}
	}

	stats, err := p.reconcile(ctx, batch)
	if err != nil {
		return Stats{}, err
	}
	progress(fmt.Sprintf("reconciled %d chunks: %d added, %d skipped, %d deleted",
		len(batch), stats.Added, stats.Skipped, stats.Deleted))
	return stats, nil
}

// reconcile applies the configured cleanup mode to one incoming batch.
func (p *Pipeline) reconcile(ctx context.Context, batch []docstore.Document) (Stats, error) {
	if p.cfg.Cleanup == CleanupNone {
		if len(batch) == 0 {
			return Stats{}, nil
		}
		if _, err := p.store.Add(ctx, batch); err != nil {
			return Stats{}, fmt.Errorf("ingestion: add failed: %w", err)
		}
		return Stats{Added: len(batch)}, nil
	}

	existing, err := p.loadExisting(ctx)
	if err != nil {
		return Stats{}, err
	}

	// Index what the store already holds by digest and by source key.
	existingByDigest := make(map[string][]docstore.Document, len(existing))
	existingBySourceKey := make(map[string][]docstore.Document, len(existing))
	for _, doc := range existing {
		d := doc.Digest()
		existingByDigest[d] = append(existingByDigest[d], doc)
		k := sourceKey(doc)
		existingBySourceKey[k] = append(existingBySourceKey[k], doc)
	}

	// Dedupe the incoming batch by digest — re-ingesting the same content
	// twice in one batch must not double-insert.
	incomingDigests := make(map[string]bool, len(batch))
	var toAdd []docstore.Document
	var stats Stats
	staleIDs := make(map[string]bool)

	for _, doc := range batch {
		d := doc.Digest()
		if incomingDigests[d] {
			stats.Skipped++
			continue
		}
		incomingDigests[d] = true

		if len(existingByDigest[d]) > 0 {
			// Unchanged chunk — leave the stored record alone.
			stats.Skipped++
			continue
		}

		// Changed chunk: any stored record under the same source key with a
		// different digest is stale.
		for _, old := range existingBySourceKey[sourceKey(doc)] {
			if old.Digest() != d {
				staleIDs[old.ID] = true
			}
		}
		toAdd = append(toAdd, doc)
	}

	if p.cfg.Cleanup == CleanupFull {
		// The store must end up holding exactly the deduplicated batch:
		// everything whose digest is absent goes, and digests that are
		// present keep at most one stored record (duplicates accumulated
		// under cleanup=none are surplus).
		for digest, olds := range existingByDigest {
			if !incomingDigests[digest] {
				for _, old := range olds {
					staleIDs[old.ID] = true
				}
				continue
			}
			for _, old := range olds[1:] {
				staleIDs[old.ID] = true
			}
		}
	}

	if len(staleIDs) > 0 {
		ids := make([]string, 0, len(staleIDs))
		for id := range staleIDs {
			ids = append(ids, id)
		}
		if err := p.store.Delete(ctx, ids); err != nil {
			return Stats{}, fmt.Errorf("ingestion: delete stale records: %w", err)
		}
		stats.Deleted = len(ids)
	}

	if len(toAdd) > 0 {
		if _, err := p.store.Add(ctx, toAdd); err != nil {
			return Stats{}, fmt.Errorf("ingestion: add failed: %w", err)
		}
		stats.Added = len(toAdd)
	}

	return stats, nil
}

// loadExisting fetches every stored document for reconciliation.
func (p *Pipeline) loadExisting(ctx context.Context) ([]docstore.Document, error) {
	ids, err := p.store.GetAllIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("ingestion: list store ids: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	docs, err := p.store.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("ingestion: fetch store documents: %w", err)
	}
	return docs, nil
}

// sourceKey is the identity key for reconciliation: where the chunk came
// from plus its position in that source.
func sourceKey(doc docstore.Document) string {
	return doc.Metadata[docstore.MetaSource] + "#" + doc.Metadata["chunk_index"]
}

// fetch retrieves the raw text content of a URL.
func (p *Pipeline) fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", p.cfg.UserAgent)
	req.Header.Set("Accept", "text/plain, text/html")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d for %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading body: %w", err)
	}

	return string(body), nil
}

// chunk splits text into overlapping chunks of cfg.ChunkSize characters.
func (p *Pipeline) chunk(text string) []string {
	text = strings.TrimSpace(text)
	if len(text) == 0 {
		return nil
	}

	var chunks []string
	size := p.cfg.ChunkSize
	overlap := p.cfg.ChunkOverlap

	for start := 0; start < len(text); start += size - overlap {
		end := start + size
		if end > len(text) {
			end = len(text)
		}
		chunks = append(chunks, text[start:end])
		if end == len(text) {
			break
		}
	}

	return chunks
}
