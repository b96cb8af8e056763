// Package server exposes the coaching engine over HTTP. Handlers are thin:
// decode, delegate, map taxonomy errors to status codes, encode.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"chesscoach/internal/coach"
	"chesscoach/internal/config"
	"chesscoach/internal/insight"
	"chesscoach/internal/logging"
	"chesscoach/internal/store"
	"chesscoach/internal/types"
)

// Server is the HTTP API server.
type Server struct {
	cfg          *config.Config
	orchestrator *coach.Orchestrator
	store        *store.LocalStore
	insights     *insight.Aggregator
	httpServer   *http.Server
}

// New creates the HTTP server.
func New(cfg *config.Config, o *coach.Orchestrator, s *store.LocalStore, a *insight.Aggregator) *Server {
	srv := &Server{
		cfg:          cfg,
		orchestrator: o,
		store:        s,
		insights:     a,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", srv.handleHealth)
	mux.HandleFunc("POST /api/chat/message", srv.handleChat)
	mux.HandleFunc("GET /api/conversations", srv.handleListConversations)
	mux.HandleFunc("GET /api/conversations/search", srv.handleSearchConversations)
	mux.HandleFunc("GET /api/conversations/{id}", srv.handleGetConversation)
	mux.HandleFunc("PUT /api/conversations/{id}/title", srv.handleUpdateTitle)
	mux.HandleFunc("DELETE /api/conversations/{id}", srv.handleDeleteConversation)
	mux.HandleFunc("GET /api/conversations/{id}/messages", srv.handleMessages)
	mux.HandleFunc("POST /api/conversations/{id}/insights", srv.handleAddInsights)
	mux.HandleFunc("PUT /api/conversations/{id}/coaching-metadata", srv.handleCoachingMetadata)
	mux.HandleFunc("GET /api/insights", srv.handleActiveInsights)
	mux.HandleFunc("GET /api/profile", srv.handleGetProfile)
	mux.HandleFunc("PUT /api/profile", srv.handleUpdateProfile)

	srv.httpServer = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.withMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv
}

// Start begins serving. Blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	logging.Server("HTTP server listening on %s", s.cfg.Addr())
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Server("HTTP server shutting down")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats, _ := s.store.GetStats()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"name":    s.cfg.Name,
		"version": s.cfg.Version,
		"stats":   stats,
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req coach.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, types.ValidationError("invalid request body: %v", err))
		return
	}

	result, err := s.orchestrator.Chat(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, types.ValidationError("user_id query parameter is required"))
		return
	}
	limit := queryInt(r, "limit", 0)
	offset := queryInt(r, "offset", 0)

	list, err := s.store.ListConversations(userID, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": list})
}

func (s *Server) handleSearchConversations(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, types.ValidationError("user_id query parameter is required"))
		return
	}

	results, err := s.store.SearchConversations(userID, r.URL.Query().Get("q"), queryInt(r, "limit", 0))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": results})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.store.GetConversation(r.PathValue("id"), r.URL.Query().Get("user_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleUpdateTitle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
		Title  string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, types.ValidationError("invalid request body: %v", err))
		return
	}

	id := r.PathValue("id")
	if err := s.store.UpdateTitle(id, req.UserID, req.Title); err != nil {
		writeError(w, err)
		return
	}

	conv, err := s.store.GetConversation(id, req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	err := s.store.DeleteConversation(r.PathValue("id"), r.URL.Query().Get("user_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	userID := r.URL.Query().Get("user_id")

	// Ownership gate before reading messages.
	if _, err := s.store.GetConversation(id, userID); err != nil {
		writeError(w, err)
		return
	}

	messages, err := s.store.Messages(id, queryInt(r, "limit", 0), queryInt(r, "offset", 0))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func (s *Server) handleAddInsights(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID   string          `json:"user_id"`
		Insights []types.Insight `json:"insights"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, types.ValidationError("invalid request body: %v", err))
		return
	}

	stored, err := s.insights.AddInsights(r.PathValue("id"), req.UserID, req.Insights)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"insights": stored})
}

func (s *Server) handleCoachingMetadata(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID   string         `json:"user_id"`
		Metadata map[string]any `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, types.ValidationError("invalid request body: %v", err))
		return
	}

	merged, err := s.insights.UpdateCoachingMetadata(r.PathValue("id"), req.UserID, req.Metadata)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"coaching_metadata": merged})
}

func (s *Server) handleActiveInsights(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, types.ValidationError("user_id query parameter is required"))
		return
	}

	insights, err := s.insights.ActiveInsights(userID, r.URL.Query().Get("type"), queryInt(r, "limit", 0))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"insights": insights})
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := s.store.GetOrCreateProfile(r.URL.Query().Get("user_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID  string                 `json:"user_id"`
		Profile *types.CoachingProfile `json:"profile"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Profile == nil {
		writeError(w, types.ValidationError("invalid request body"))
		return
	}

	if _, err := s.store.GetOrCreateProfile(req.UserID); err != nil {
		writeError(w, err)
		return
	}
	profile, err := s.store.UpdateProfile(req.UserID, req.Profile)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// writeJSON encodes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Server("Failed to encode response: %v", err)
	}
}

// writeError maps the taxonomy to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, types.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, types.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, types.ErrUpstream):
		status = http.StatusBadGateway
	}

	writeJSON(w, status, map[string]any{"error": err.Error()})
}

// queryInt parses an integer query parameter, falling back to def.
func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
