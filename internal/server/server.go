// Package server exposes the story workflow over HTTP and WebSocket.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/dotcommander/loom/internal/core"
	"github.com/dotcommander/loom/internal/graph"
	"github.com/dotcommander/loom/internal/publish"
	"github.com/dotcommander/loom/internal/runner"
	"github.com/dotcommander/loom/internal/session"
)

// ownerHeader carries the caller's identity. Authentication proper sits in
// front of this service; the header is the trusted result of it.
const ownerHeader = "X-Owner-ID"

type Server struct {
	sessions *session.Store
	graph    graph.Store
	runner   *runner.Runner
	broker   *publish.Broker
	validate *validator.Validate
	logger   *slog.Logger
}

func New(sessions *session.Store, g graph.Store, r *runner.Runner, broker *publish.Broker, logger *slog.Logger) *Server {
	return &Server{
		sessions: sessions,
		graph:    g,
		runner:   r,
		broker:   broker,
		validate: validator.New(),
		logger:   logger.With("component", "server"),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/stories", s.createStory)
	mux.HandleFunc("GET /api/stories", s.listStories)
	mux.HandleFunc("GET /api/stories/{id}", s.getStory)
	mux.HandleFunc("DELETE /api/stories/{id}", s.deleteStory)
	mux.HandleFunc("POST /api/stories/{id}/interact", s.interact)
	mux.HandleFunc("GET /api/stories/{id}/outline", s.outline)
	mux.HandleFunc("GET /api/stories/{id}/bible/{category}", s.bible)
	mux.HandleFunc("GET /api/stories/{id}/stream", s.stream)
	return mux
}

type createStoryRequest struct {
	Title  string   `json:"title" validate:"required,min=1,max=200"`
	Prompt string   `json:"prompt" validate:"required,min=10,max=1000"`
	Genres []string `json:"genres" validate:"required,min=1,max=5,dive,required"`
}

func (s *Server) createStory(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	var req createStoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	rec := &core.StoryRecord{
		ID:      uuid.NewString(),
		OwnerID: owner,
		Title:   req.Title,
		Prompt:  req.Prompt,
		Genres:  req.Genres,
	}
	if err := s.sessions.Create(r.Context(), rec); err != nil {
		s.internalError(w, "creating story", err)
		return
	}
	s.runner.StartOrResume(rec.ID)
	s.logger.Info("story created", "story_id", rec.ID, "owner_id", owner)
	s.writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) listStories(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	recs, err := s.sessions.ListByOwner(r.Context(), owner)
	if err != nil {
		s.internalError(w, "listing stories", err)
		return
	}
	summaries := make([]storySummary, 0, len(recs))
	for _, rec := range recs {
		sum := storySummary{
			ID:        rec.ID,
			Title:     rec.Title,
			CreatedAt: rec.CreatedAt,
			UpdatedAt: rec.UpdatedAt,
		}
		if rec.Control != nil {
			sum.Status = rec.Control.Status
		}
		summaries = append(summaries, sum)
	}
	s.writeJSON(w, http.StatusOK, summaries)
}

type storySummary struct {
	ID        string      `json:"id"`
	Title     string      `json:"title"`
	Status    core.Status `json:"status,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

func (s *Server) getStory(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.ownedStory(w, r)
	if !ok {
		return
	}
	// The outline is best-effort: before the structure stage runs there is
	// nothing to show and the record alone is the answer.
	out, err := s.graph.Outline(r.Context(), rec.ID)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		s.internalError(w, "loading outline", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"story": rec, "outline": out})
}

func (s *Server) deleteStory(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.ownedStory(w, r)
	if !ok {
		return
	}
	if err := s.graph.DeleteStory(r.Context(), rec.ID); err != nil {
		s.internalError(w, "deleting story graph", err)
		return
	}
	if err := s.sessions.Delete(r.Context(), rec.ID, rec.OwnerID); err != nil {
		s.internalError(w, "deleting story record", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type interactRequest struct {
	Message string `json:"message" validate:"required,min=1,max=2000"`
}

func (s *Server) interact(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.ownedStory(w, r)
	if !ok {
		return
	}
	var req interactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := s.runner.SubmitFeedback(r.Context(), rec.ID, req.Message); err != nil {
		if errors.Is(err, runner.ErrNotAwaitingInput) {
			s.writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.internalError(w, "submitting feedback", err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) outline(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.ownedStory(w, r)
	if !ok {
		return
	}
	out, err := s.graph.Outline(r.Context(), rec.ID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "outline not available yet")
			return
		}
		s.internalError(w, "loading outline", err)
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) bible(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.ownedStory(w, r)
	if !ok {
		return
	}
	category := r.PathValue("category")
	entries, err := s.graph.BibleCategory(r.Context(), rec.ID, category)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "unknown bible category")
			return
		}
		s.internalError(w, "loading bible category", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"category": category, "entries": entries})
}

func (s *Server) owner(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner := r.Header.Get(ownerHeader)
	if owner == "" {
		s.writeError(w, http.StatusUnauthorized, "missing "+ownerHeader+" header")
		return "", false
	}
	return owner, true
}

// ownedStory resolves the path story for the calling owner. An existing
// story owned by someone else reads as 404.
func (s *Server) ownedStory(w http.ResponseWriter, r *http.Request) (*core.StoryRecord, bool) {
	owner, ok := s.owner(w, r)
	if !ok {
		return nil, false
	}
	rec, err := s.sessions.GetOwned(r.Context(), r.PathValue("id"), owner)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "story not found")
			return nil, false
		}
		s.internalError(w, "loading story", err)
		return nil, false
	}
	return rec, true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encoding response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error(op, "error", err)
	s.writeError(w, http.StatusInternalServerError, "internal error")
}
