package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/ragflow-go/internal/docstore"
	"github.com/54b3r/ragflow-go/internal/graph"
	"github.com/54b3r/ragflow-go/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// QueryTimeout is the per-request ceiling for POST /api/query, bounding
	// the graph's oracle calls. Defaults to 2 minutes.
	QueryTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// MetricsRegistry receives the server's Prometheus metrics. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// runner is the interface handleQuery calls to answer a question.
// *graph.Engine satisfies it; tests inject a fake.
type runner interface {
	// Run executes the retrieval graph and returns the terminal state.
	Run(ctx context.Context, question string, clientTopics []string) (*graph.State, error)
}

// Server is the HTTP server exposing the retrieval service.
type Server struct {
	// runner answers questions; set to the graph engine in production,
	// overridden by a fake in tests.
	runner runner
	// docs is the document store behind the ingestion API.
	docs docstore.DocumentStore
	// queryLog records answered queries. May be nil (logging disabled).
	queryLog store.QueryLog
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds this instance's Prometheus metrics.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// queryRequest is the JSON body for POST /api/query.
type queryRequest struct {
	// Question is the user's natural language question.
	Question string `json:"question"`
	// ClientTopics are the topic labels the knowledge base covers, used by
	// the router to decide between vectorstore and web search.
	ClientTopics []string `json:"client_topics"`
}

// queryResponse is the JSON response for POST /api/query.
type queryResponse struct {
	// Generation is the final answer.
	Generation string `json:"generation"`
	// Documents is the terminal context the answer was generated from.
	Documents []documentPayload `json:"documents"`
	// Route is the router's datasource decision.
	Route string `json:"route"`
	// Hops is how many graph nodes the query executed.
	Hops int `json:"hops"`
	// WebSearch is true when grading forced a web search fallback.
	WebSearch bool `json:"web_search"`
}

// documentPayload is the wire shape of a document in requests and responses.
type documentPayload struct {
	// ID is the store-assigned identifier. Ignored on add.
	ID string `json:"id,omitempty"`
	// Content is the document text.
	Content string `json:"content"`
	// Metadata is the string-keyed metadata mapping.
	Metadata map[string]string `json:"metadata,omitempty"`
	// Score is the similarity score, present only on query responses.
	Score float32 `json:"score,omitempty"`
}

// addDocumentsRequest is the JSON body for POST /api/documents.
type addDocumentsRequest struct {
	// Documents is the batch to ingest. Digests are stamped server-side.
	Documents []documentPayload `json:"documents"`
}

// addDocumentsResponse is the JSON response for POST /api/documents.
type addDocumentsResponse struct {
	// IDs are the assigned ids, parallel to the request's documents.
	IDs []string `json:"ids"`
}

// idsRequest is the JSON body for POST /api/documents/by-ids and
// DELETE /api/documents.
type idsRequest struct {
	IDs []string `json:"ids"`
}

// idsResponse is the JSON response for GET /api/documents/ids.
type idsResponse struct {
	IDs []string `json:"ids"`
}

// documentsResponse is the JSON response for POST /api/documents/by-ids.
type documentsResponse struct {
	Documents []documentPayload `json:"documents"`
}

// updateDocumentRequest is the JSON body for PUT /api/documents/{id}.
type updateDocumentRequest struct {
	// Content is the replacement document text.
	Content string `json:"content"`
	// Metadata is the replacement metadata mapping.
	Metadata map[string]string `json:"metadata,omitempty"`
}
