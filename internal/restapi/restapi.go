// Package restapi implements the HTTP surface alongside the websocket
// transport (spec §6): search, suggestions, playlist expansion, related
// videos, and an embeddability batch check, all delegating to the
// External Asset Adapter. Grounded on the teacher's
// internal/controller/router.controller.go chi wiring.
package restapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/clipsync/server/internal/assetadapter"
	"github.com/clipsync/server/internal/domain"
	"github.com/clipsync/server/internal/ratelimit"
)

// Adapter is the narrow External Asset Adapter capability this surface
// needs beyond command.AssetAdapter's isEmbeddable/expandPlaylist.
// Satisfied by *assetadapter.Adapter.
type Adapter interface {
	IsEmbeddable(ctx context.Context, videoID string) (bool, error)
	ExpandPlaylist(ctx context.Context, ref string) ([]domain.Video, error)
	Search(ctx context.Context, query, continuation string) (assetadapter.SearchResult, error)
	Related(ctx context.Context, videoID, continuation string) (assetadapter.SearchResult, error)
	Suggestions(ctx context.Context, query string) ([]string, error)
}

type Server struct {
	adapter Adapter
	limiter *ratelimit.Limiter
	logger  *slog.Logger
	wsUpgrade http.Handler
}

func New(adapter Adapter, limiter *ratelimit.Limiter, wsUpgrade http.Handler, logger *slog.Logger) *Server {
	return &Server{adapter: adapter, limiter: limiter, wsUpgrade: wsUpgrade, logger: logger}
}

func (s *Server) Mux() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(s.requestLoggingMw)
	r.Use(cors.AllowAll().Handler)
	r.Use(s.limiter.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Post("/search", s.handleSearch)
	r.Post("/suggestions", s.handleSuggestions)
	r.Post("/playlist", s.handlePlaylist)
	r.Post("/related", s.handleRelated)
	r.Post("/check-embeddable", s.handleCheckEmbeddable)

	r.Handle("/ws", s.wsUpgrade)

	return r
}

func (s *Server) requestLoggingMw(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.InfoContext(r.Context(), "http request", "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

type searchRequest struct {
	Query        string `json:"query"`
	Continuation string `json:"continuation"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.adapter.Search(r.Context(), req.Query, req.Continuation)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "restapi: search failed", "error", err)
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type suggestionsRequest struct {
	Query string `json:"query"`
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	var req suggestionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	suggestions, err := s.adapter.Suggestions(r.Context(), req.Query)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "restapi: suggestions failed", "error", err)
		writeError(w, http.StatusInternalServerError, "suggestions failed")
		return
	}

	writeJSON(w, http.StatusOK, suggestions)
}

type playlistRequest struct {
	PlaylistURLOrID string `json:"playlistUrlOrId"`
}

func (s *Server) handlePlaylist(w http.ResponseWriter, r *http.Request) {
	var req playlistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	videos, err := s.adapter.ExpandPlaylist(r.Context(), req.PlaylistURLOrID)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "restapi: expandPlaylist failed", "error", err)
		writeError(w, http.StatusInternalServerError, "playlist expansion failed")
		return
	}

	writeJSON(w, http.StatusOK, videos)
}

type relatedRequest struct {
	VideoID      string `json:"videoId"`
	Continuation string `json:"continuation"`
}

func (s *Server) handleRelated(w http.ResponseWriter, r *http.Request) {
	var req relatedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.adapter.Related(r.Context(), req.VideoID, req.Continuation)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "restapi: related failed", "error", err)
		writeError(w, http.StatusInternalServerError, "related lookup failed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type checkEmbeddableRequest struct {
	VideoIDs []string `json:"videoIds"`
}

type embeddableStatus struct {
	VideoID  string `json:"videoId"`
	CanEmbed bool   `json:"canEmbed"`
}

func (s *Server) handleCheckEmbeddable(w http.ResponseWriter, r *http.Request) {
	var req checkEmbeddableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	statuses := make([]embeddableStatus, 0, len(req.VideoIDs))
	for _, id := range req.VideoIDs {
		canEmbed, err := s.adapter.IsEmbeddable(r.Context(), id)
		if err != nil {
			s.logger.ErrorContext(r.Context(), "restapi: isEmbeddable failed", "videoId", id, "error", err)
			canEmbed = false
		}
		statuses = append(statuses, embeddableStatus{VideoID: id, CanEmbed: canEmbed})
	}

	writeJSON(w, http.StatusOK, statuses)
}
