package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/54b3r/ragflow-go/internal/graph"
	"github.com/54b3r/ragflow-go/internal/logging"
	"github.com/54b3r/ragflow-go/internal/oracle"
	"github.com/54b3r/ragflow-go/internal/store"
)

// handleQuery handles POST /api/query. It runs the full retrieval graph for
// the question and returns the final generation plus the terminal context.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		http.Error(w, "question is required", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.QueryTimeout)
	defer cancel()

	s.metrics.queryActive.Inc()
	start := time.Now()
	state, err := s.runner.Run(ctx, req.Question, req.ClientTopics)
	elapsed := time.Since(start)
	s.metrics.queryActive.Dec()

	if err != nil {
		outcome := outcomeError
		status := http.StatusBadGateway
		msg := "query failed"

		var oe *oracle.OracleError
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			outcome = outcomeTimeout
			status = http.StatusGatewayTimeout
			msg = "query timed out"
		case errors.As(err, &oe):
			msg = "oracle failure: " + oe.Oracle
		}

		s.metrics.queryRequestsTotal.WithLabelValues(outcome).Inc()
		s.metrics.queryDurationSeconds.WithLabelValues(outcome).Observe(elapsed.Seconds())
		log.Error("query failed",
			slog.Any("error", err),
			slog.Duration("duration", elapsed),
		)
		http.Error(w, msg, status)
		return
	}

	s.metrics.queryRequestsTotal.WithLabelValues(outcomeOK).Inc()
	s.metrics.queryDurationSeconds.WithLabelValues(outcomeOK).Observe(elapsed.Seconds())
	s.metrics.queryHops.Observe(float64(state.Hops()))

	s.recordQuery(r.Context(), state)

	resp := queryResponse{
		Generation: state.Generation,
		Documents:  make([]documentPayload, 0, len(state.Documents)),
		Route:      state.Route,
		Hops:       state.Hops(),
		WebSearch:  state.WebSearch,
	}
	for _, d := range state.Documents {
		resp.Documents = append(resp.Documents, documentPayload{
			ID:       d.ID,
			Content:  d.Content,
			Metadata: d.Metadata,
			Score:    d.Score,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error("query encode error", slog.Any("error", err))
	}
}

// recordQuery appends the answered query to the query log. Logging failures
// never fail the request — the answer has already been produced.
func (s *Server) recordQuery(ctx context.Context, state *graph.State) {
	if s.queryLog == nil {
		return
	}
	rec := store.Record{
		Question:   state.Question,
		Route:      state.Route,
		Hops:       state.Hops(),
		WebSearch:  state.WebSearch,
		Generation: state.Generation,
	}
	if err := s.queryLog.Append(ctx, rec); err != nil {
		logging.FromContext(ctx).Warn("query log append failed", slog.Any("error", err))
	}
}
