// Package docstore defines the document model and the DocumentStore contract:
// durable, queryable storage of text documents with vector-similarity
// retrieval. Concrete implementations (Qdrant, in-memory) satisfy the
// interface so the orchestration layer never depends on a specific backend.
package docstore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// Document represents a unit of stored or retrieved knowledge.
type Document struct {
	// ID is the store-assigned unique identifier. Empty until the document
	// has been added to a store. Distinct from the content digest.
	ID string

	// Content is the raw text content of the document.
	Content string

	// Metadata holds arbitrary key-value pairs (source, topic, digest, etc.).
	Metadata map[string]string

	// Score is the similarity score assigned during retrieval.
	// Zero value means the score was not computed.
	Score float32
}

// Digest returns the document's content digest from metadata, or empty
// string if the document was never run through the ingestion boundary.
func (d Document) Digest() string {
	return d.Metadata[MetaDigest]
}

// MetaDigest is the metadata key under which the content digest is stored.
const MetaDigest = "digest"

// MetaSource is the metadata key identifying where a document came from
// (file path, URL, or "websearch" for search-engine results).
const MetaSource = "source"

// DocumentStore is the interface for persisting and searching documents.
// Implementations must be safe to call from multiple goroutines; no
// query-level locking is required of callers.
//
// Identity policy: Update is delete-then-add internally, but both
// implementations re-insert under the original id, so ids are stable
// across updates.
type DocumentStore interface {
	// Add persists the given documents and returns one store-assigned id per
	// document, in input order. The call is all-or-nothing: on error the
	// caller must assume nothing was committed.
	Add(ctx context.Context, docs []Document) ([]string, error)

	// GetAllIDs returns every live document id. Ordering is not guaranteed.
	GetAllIDs(ctx context.Context) ([]string, error)

	// GetByIDs returns the documents that exist for the given ids. Ids with
	// no matching record are silently omitted — callers that need to detect
	// absence must compare the result count against the request.
	GetByIDs(ctx context.Context, ids []string) ([]Document, error)

	// Delete removes the records with the given ids. Deleting an id that
	// does not exist is a no-op, not an error.
	Delete(ctx context.Context, ids []string) error

	// Update replaces the content and metadata of the record with the given
	// id. Internally a delete followed by an add under the same id.
	Update(ctx context.Context, id, content string, metadata map[string]string) error

	// Search returns up to k documents ordered by descending cosine
	// similarity to the query (higher score = more similar). A k of zero
	// or less returns no documents.
	Search(ctx context.Context, query string, k int) ([]Document, error)

	// HealthCheck reports whether the backend is reachable by performing a
	// cheap read. It never returns an error — failures convert to false.
	HealthCheck(ctx context.Context) bool

	// Close releases any resources held by the store.
	Close() error
}

// StoreError wraps a connectivity or query failure in the document store so
// callers can distinguish storage faults from oracle faults with errors.As.
type StoreError struct {
	// Op is the store operation that failed ("add", "search", ...).
	Op string
	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	return fmt.Sprintf("docstore: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause for errors.Is / errors.As chains.
func (e *StoreError) Unwrap() error { return e.Err }

// storeErr wraps err as a *StoreError for the given operation.
func storeErr(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}

// NewID returns a random store identity in canonical UUID form. Both store
// implementations assign ids with it so that identity is uniform across
// backends (Qdrant requires UUID-shaped point ids).
func NewID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand never fails on supported platforms; a zero id is still
		// valid UUID syntax.
		return "00000000-0000-4000-8000-000000000000"
	}
	b[6] = (b[6] & 0x0f) | 0x40 // version 4
	b[8] = (b[8] & 0x3f) | 0x80 // variant 10
	s := hex.EncodeToString(b)
	return s[0:8] + "-" + s[8:12] + "-" + s[12:16] + "-" + s[16:20] + "-" + s[20:32]
}
