package server

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/memodrill/memodrill/internal/selection"
	"github.com/memodrill/memodrill/internal/session"
	"github.com/memodrill/memodrill/pkg/types"
)

type startSessionRequest struct {
	Mode   types.StudyMode  `json:"mode"`
	Policy types.PolicyName `json:"policy"`
	Scope  types.Scope      `json:"scope"`
	Limit  int              `json:"limit"`
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !req.Mode.IsValid() {
		writeError(w, http.StatusBadRequest, "invalid study mode")
		return
	}

	sess, err := s.sessions.Start(r.Context(), userID(r), req.Mode, req.Scope, req.Policy, req.Limit)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleResumeSession(w http.ResponseWriter, r *http.Request) {
	mode := types.StudyMode(r.URL.Query().Get("mode"))
	if !mode.IsValid() {
		writeError(w, http.StatusBadRequest, "invalid study mode")
		return
	}

	sess, err := s.sessions.Resume(r.Context(), userID(r), mode)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if sess == nil {
		writeError(w, http.StatusNotFound, "no active session")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

type nextBatchRequest struct {
	Size int `json:"size"`
}

type nextBatchResponse struct {
	Items []session.ServedItem `json:"items"`
	Done  bool                 `json:"done"`
}

func (s *Server) handleNextBatch(w http.ResponseWriter, r *http.Request) {
	var req nextBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	items, err := s.sessions.NextBatch(r.Context(), chi.URLParam(r, "id"), req.Size)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nextBatchResponse{Items: items, Done: len(items) == 0})
}

type submitAnswer struct {
	ItemID     int64        `json:"item_id"`
	Rating     types.Rating `json:"rating,omitempty"`
	Quality    *int         `json:"quality,omitempty"` // legacy 0-5 scale
	DurationMs int          `json:"duration_ms"`
}

type submitAnswersRequest struct {
	Answers []submitAnswer `json:"answers"`
}

func (s *Server) handleSubmitAnswers(w http.ResponseWriter, r *http.Request) {
	var req submitAnswersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	answers := make([]session.Answer, 0, len(req.Answers))
	for _, a := range req.Answers {
		rating := a.Rating
		if a.Quality != nil {
			var err error
			rating, err = types.RatingFromQuality(*a.Quality)
			if err != nil {
				writeEngineError(w, err)
				return
			}
		}
		answers = append(answers, session.Answer{
			ItemID:     a.ItemID,
			Rating:     rating,
			DurationMs: a.DurationMs,
		})
	}

	results, err := s.sessions.SubmitAnswers(r.Context(), chi.URLParam(r, "id"), answers)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.End(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := types.StudyMode(q.Get("mode"))
	if !mode.IsValid() {
		writeError(w, http.StatusBadRequest, "invalid study mode")
		return
	}

	scope, err := scopeFromQuery(q.Get("scope"))
	if err != nil {
		writeEngineError(w, err)
		return
	}

	counts, err := s.selector.Count(r.Context(), userID(r), mode, scope, time.Now().UTC())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// scopeFromQuery parses "all" or a comma-separated container id list.
func scopeFromQuery(raw string) (types.Scope, error) {
	if raw == "all" {
		return types.ScopeAll(), nil
	}
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return types.Scope{}, types.ErrInvalidScope
		}
		ids = append(ids, id)
	}
	scope := types.ScopeContainers(ids...)
	return scope, scope.Validate()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("server: failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeEngineError maps typed engine errors onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, types.ErrInvalidScope),
		errors.Is(err, types.ErrInvalidPolicy),
		errors.Is(err, types.ErrInvalidRating),
		errors.Is(err, types.ErrItemNotInSession):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, types.ErrAccessDenied):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, types.ErrSessionNotFound),
		errors.Is(err, types.ErrEmptyScope),
		errors.Is(err, types.ErrEmptyPool):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, types.ErrSessionNotActive),
		errors.Is(err, types.ErrDuplicateAnswer):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, selection.ErrContentUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		log.Printf("server: internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
