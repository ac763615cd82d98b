package docstore

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
)

// scrollPageSize is the number of points fetched per page when listing ids.
const scrollPageSize = 1024

// QdrantConfig holds connection parameters for a Qdrant vector store instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name to use.
	Collection string

	// VectorSize is the dimensionality of the embeddings stored in this collection.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantStore implements DocumentStore backed by a Qdrant instance.
// Documents are embedded at the Add/Update boundary; vectors live only in
// the collection and are never returned to callers.
type QdrantStore struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// embedder converts content and queries into vectors.
	embedder Embedder

	// cfg holds the resolved configuration for this store.
	cfg *QdrantConfig
}

// NewQdrantStore creates a new QdrantStore, ensuring the target collection
// exists (creating it if necessary), and returns a ready-to-use DocumentStore.
func NewQdrantStore(ctx context.Context, embedder Embedder, cfg *QdrantConfig) (*QdrantStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("docstore: embedder must not be nil")
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	clientCfg := &qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	}

	client, err := qdrant.NewClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("docstore: failed to create qdrant client: %w", err)
	}

	store := &QdrantStore{client: client, embedder: embedder, cfg: cfg}
	if err := store.ensureCollection(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// ensureCollection creates the Qdrant collection if it does not already exist.
func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("docstore: failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("docstore: failed to create collection %q: %w", s.cfg.Collection, err)
	}

	return nil
}

// Add embeds and upserts the documents, returning one new point id per
// document in input order. Embedding happens before the upsert, and the
// upsert is a single batched call, so a failed Add commits nothing.
func (s *QdrantStore) Add(ctx context.Context, docs []Document) ([]string, error) {
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

	ids := make([]string, len(docs))
	points := make([]*qdrant.PointStruct, 0, len(docs))
	for i, doc := range docs {
		ids[i] = NewID()
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(ids[i]),
			Vectors: qdrant.NewVectors(embeddings[i]...),
			Payload: qdrant.NewValueMap(payloadFor(doc)),
		})
	}

	if _, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Points:         points,
	}); err != nil {
		return nil, storeErr("add", err)
	}

	return ids, nil
}

// GetAllIDs pages through the collection and returns every live point id.
// Ordering follows Qdrant's internal scroll order and is not guaranteed.
func (s *QdrantStore) GetAllIDs(ctx context.Context) ([]string, error) {
	var (
		ids    []string
		offset *qdrant.PointId
		limit  = uint32(scrollPageSize)
	)

	for {
		points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: s.cfg.Collection,
			Limit:          &limit,
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayload(false),
		})
		if err != nil {
			return nil, storeErr("get_all_ids", err)
		}
		if len(points) == 0 {
			break
		}

		for _, p := range points {
			// The scroll offset is inclusive, so the first point of every
			// page after the first is a repeat of the previous tail.
			if offset != nil && p.Id.GetUuid() == offset.GetUuid() {
				continue
			}
			ids = append(ids, p.Id.GetUuid())
		}

		if uint32(len(points)) < limit {
			break
		}
		offset = points[len(points)-1].Id
	}

	return ids, nil
}

// GetByIDs fetches the points that exist for the given ids; ids with no
// matching point are silently omitted.
func (s *QdrantStore) GetByIDs(ctx context.Context, ids []string) ([]Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewIDUUID(id))
	}

	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.cfg.Collection,
		Ids:            pointIDs,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, storeErr("get_by_ids", err)
	}

	docs := make([]Document, 0, len(points))
	for _, p := range points {
		docs = append(docs, documentFrom(p.Id.GetUuid(), p.Payload, 0))
	}
	return docs, nil
}

// Delete removes the points with the given ids; missing ids are a no-op on
// the Qdrant side.
func (s *QdrantStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewIDUUID(id))
	}

	if _, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.cfg.Collection,
		Points:         qdrant.NewPointsSelector(pointIDs...),
	}); err != nil {
		return storeErr("delete", err)
	}

	return nil
}

// Update replaces the point under id with new content and metadata:
// delete, then re-insert under the same id with a freshly computed vector.
func (s *QdrantStore) Update(ctx context.Context, id, content string, metadata map[string]string) error {
	embeddings, err := s.embedder.Embed(ctx, []string{content})
	if err != nil {
		return storeErr("update", err)
	}
	if len(embeddings) != 1 {
		return storeErr("update", fmt.Errorf("expected 1 embedding, got %d", len(embeddings)))
	}

	if err := s.Delete(ctx, []string{id}); err != nil {
		return err
	}

	point := &qdrant.PointStruct{
		Id:      qdrant.NewIDUUID(id),
		Vectors: qdrant.NewVectors(embeddings[0]...),
		Payload: qdrant.NewValueMap(payloadFor(Document{Content: content, Metadata: metadata})),
	}
	if _, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Points:         []*qdrant.PointStruct{point},
	}); err != nil {
		return storeErr("update", err)
	}

	return nil
}

// Search embeds the query and returns up to k documents ordered by
// descending cosine similarity (Qdrant's cosine score, higher = closer).
func (s *QdrantStore) Search(ctx context.Context, query string, k int) ([]Document, error) {
	if k <= 0 {
		return nil, nil
	}
	embeddings, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, storeErr("search", err)
	}
	if len(embeddings) == 0 {
		return nil, storeErr("search", fmt.Errorf("embedder returned empty result for query"))
	}

	limit := uint64(k)
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(embeddings[0]...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, storeErr("search", err)
	}

	docs := make([]Document, 0, len(results))
	for _, r := range results {
		docs = append(docs, documentFrom(r.Id.GetUuid(), r.Payload, r.Score))
	}
	return docs, nil
}

// HealthCheck probes Qdrant with its native HealthCheck RPC. Failures
// convert to false; this method never returns an error.
func (s *QdrantStore) HealthCheck(ctx context.Context) bool {
	_, err := s.client.HealthCheck(ctx)
	return err == nil
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// Client exposes the underlying gRPC client for readiness probes.
func (s *QdrantStore) Client() *qdrant.Client { return s.client }

// payloadFor flattens a document into a Qdrant payload map: content under
// the "content" key, metadata keys alongside it.
func payloadFor(doc Document) map[string]interface{} {
	payload := map[string]interface{}{
		"content": doc.Content,
	}
	for k, v := range doc.Metadata {
		payload[k] = v
	}
	return payload
}

// documentFrom rebuilds a Document from a point id and payload.
func documentFrom(id string, payload map[string]*qdrant.Value, score float32) Document {
	doc := Document{
		ID:       id,
		Score:    score,
		Metadata: make(map[string]string),
	}
	for k, v := range payload {
		if k == "content" {
			doc.Content = v.GetStringValue()
			continue
		}
		doc.Metadata[k] = v.GetStringValue()
	}
	return doc
}
