package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/54b3r/ragflow-go/internal/docstore"
	"github.com/54b3r/ragflow-go/internal/logging"
)

// handleAddDocuments handles POST /api/documents. The content digest is
// stamped into each document's metadata here, at the API edge, before the
// batch reaches the store. The write is all-or-nothing: on failure no ids
// are returned and the caller must assume nothing was committed.
func (s *Server) handleAddDocuments(w http.ResponseWriter, r *http.Request) {
	var req addDocumentsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Documents) == 0 {
		http.Error(w, "documents are required", http.StatusBadRequest)
		return
	}

	docs := make([]docstore.Document, 0, len(req.Documents))
	for _, d := range req.Documents {
		if strings.TrimSpace(d.Content) == "" {
			http.Error(w, "document content is required", http.StatusBadRequest)
			return
		}
		docs = append(docs, docstore.Document{
			Content:  d.Content,
			Metadata: docstore.StampDigest(d.Content, d.Metadata),
		})
	}

	ids, err := s.docs.Add(r.Context(), docs)
	if err != nil {
		s.storeError(w, r, "add documents", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(addDocumentsResponse{IDs: ids})
}

// handleListIDs handles GET /api/documents/ids.
func (s *Server) handleListIDs(w http.ResponseWriter, r *http.Request) {
	ids, err := s.docs.GetAllIDs(r.Context())
	if err != nil {
		s.storeError(w, r, "list ids", err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(idsResponse{IDs: ids})
}

// handleGetByIDs handles POST /api/documents/by-ids. Ids that do not exist
// are silently omitted from the response; callers detect absence by diffing
// the result against the request.
func (s *Server) handleGetByIDs(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.IDs) == 0 {
		http.Error(w, "ids are required", http.StatusBadRequest)
		return
	}

	docs, err := s.docs.GetByIDs(r.Context(), req.IDs)
	if err != nil {
		s.storeError(w, r, "get by ids", err)
		return
	}

	resp := documentsResponse{Documents: make([]documentPayload, 0, len(docs))}
	for _, d := range docs {
		resp.Documents = append(resp.Documents, documentPayload{
			ID:       d.ID,
			Content:  d.Content,
			Metadata: d.Metadata,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// handleDeleteDocuments handles DELETE /api/documents. Deleting ids that do
// not exist is a no-op, matching the store contract.
func (s *Server) handleDeleteDocuments(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.IDs) == 0 {
		http.Error(w, "ids are required", http.StatusBadRequest)
		return
	}

	if err := s.docs.Delete(r.Context(), req.IDs); err != nil {
		s.storeError(w, r, "delete documents", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleUpdateDocument handles PUT /api/documents/{id}. The record keeps its
// id across the update; the digest is restamped for the new content.
func (s *Server) handleUpdateDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		http.Error(w, "document id is required", http.StatusBadRequest)
		return
	}

	var req updateDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		http.Error(w, "document content is required", http.StatusBadRequest)
		return
	}

	meta := docstore.StampDigest(req.Content, req.Metadata)
	if err := s.docs.Update(r.Context(), id, req.Content, meta); err != nil {
		s.storeError(w, r, "update document", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// storeError maps a document store failure to an HTTP response. Store
// connectivity faults surface as 502 so callers can tell service bugs from
// backend outages.
func (s *Server) storeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	logging.FromContext(r.Context()).Error(op+" failed", slog.Any("error", err))

	var se *docstore.StoreError
	if errors.As(err, &se) {
		http.Error(w, "document store unavailable", http.StatusBadGateway)
		return
	}
	http.Error(w, op+" failed", http.StatusInternalServerError)
}
