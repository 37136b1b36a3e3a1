package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/reunite/internal/models"
	"github.com/hyperjump/reunite/internal/storage"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	var req models.MatchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.ItemID = strings.TrimSpace(req.ItemID)
	if req.ItemID == "" {
		s.respondError(w, http.StatusBadRequest, "itemId is required")
		return
	}
	s.logger.Debug("match request", zap.String("item_id", req.ItemID))
	verdict, err := s.matcher.Match(r.Context(), req.ItemID)
	if err != nil {
		s.logger.Error("match failed", zap.String("item_id", req.ItemID), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, verdict)
}

func (s *Server) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	collection, err := models.ParseCollection(chi.URLParam(r, "collection"))
	if err != nil {
		s.respondError(w, http.StatusNotFound, err.Error())
		return
	}
	var fields map[string]any
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&fields); err != nil || fields == nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	id, _ := fields["id"].(string)
	delete(fields, "id")
	if msg := validateItem(collection, fields); msg != "" {
		s.respondError(w, http.StatusBadRequest, msg)
		return
	}

	rec, err := s.catalog.Add(r.Context(), collection, id, fields)
	if err != nil {
		s.logger.Error("create item failed", zap.String("collection", string(collection)), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Debug("item created", zap.String("collection", string(collection)), zap.String("item_id", rec.ID))
	s.respondJSON(w, http.StatusCreated, rec)
}

// validateItem checks the field each variant needs to be matched.
func validateItem(collection models.Collection, fields map[string]any) string {
	required := models.FieldDescription
	if collection == models.CollectionFound {
		required = models.FieldImageURL
	}
	v, ok := fields[required].(string)
	if !ok || strings.TrimSpace(v) == "" {
		return required + " is required"
	}
	return ""
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	collection, err := models.ParseCollection(chi.URLParam(r, "collection"))
	if err != nil {
		s.respondError(w, http.StatusNotFound, err.Error())
		return
	}
	rec, err := s.catalog.Get(r.Context(), collection, chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "item not found")
		return
	}
	if err != nil {
		s.logger.Error("get item failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleSearchItems(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		s.respondError(w, http.StatusBadRequest, "q is required")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	var collection models.Collection
	if raw := r.URL.Query().Get("collection"); raw != "" {
		c, err := models.ParseCollection(raw)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		collection = c
	}

	hits, err := s.catalog.Search(r.Context(), q, collection, limit)
	if err != nil {
		s.logger.Error("search failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"query": q, "total": len(hits), "hits": hits})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		s.respondError(w, http.StatusNotImplemented, "status not enabled")
		return
	}
	st, err := s.status.Collect(r.Context())
	if err != nil {
		s.logger.Error("status failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
