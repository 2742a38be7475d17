package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/VenkatGGG/leasehold/internal/lease"
	"github.com/VenkatGGG/leasehold/internal/session"
	"github.com/VenkatGGG/leasehold/pkg/httpx"
)

const sessionHeader = "X-Session-ID"

type renameSessionRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req session.CreateInput
		if err := httpx.DecodeJSON(r.Body, &req); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
			return
		}
		created, err := s.sessions.Create(r.Context(), req)
		if err != nil {
			if errors.Is(err, session.ErrInvalidName) {
				httpx.WriteError(w, http.StatusBadRequest, "invalid_name", err.Error())
				return
			}
			s.logger.Error("create session failed", "error", err)
			httpx.WriteError(w, http.StatusInternalServerError, "internal", "create session failed")
			return
		}
		httpx.WriteJSON(w, http.StatusCreated, created)
	default:
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func (s *Server) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(strings.TrimPrefix(r.URL.Path, "/v1/sessions/"))
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		found, err := s.sessions.Get(r.Context(), id)
		if err != nil {
			if errors.Is(err, session.ErrSessionNotFound) {
				httpx.WriteError(w, http.StatusNotFound, "not_found", err.Error())
				return
			}
			s.logger.Error("get session failed", "session_id", id, "error", err)
			httpx.WriteError(w, http.StatusInternalServerError, "internal", "get session failed")
			return
		}
		httpx.WriteJSON(w, http.StatusOK, found)
	case http.MethodPatch:
		s.requireOwnSession(id, s.renameSession)(w, r)
	case http.MethodDelete:
		s.requireOwnSession(id, s.deleteSession)(w, r)
	default:
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func (s *Server) renameSession(w http.ResponseWriter, r *http.Request) {
	id, _ := lease.ClaimantFromContext(r.Context())
	var req renameSessionRequest
	if err := httpx.DecodeJSON(r.Body, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	renamed, err := s.sessions.Rename(r.Context(), id, req.Name)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrInvalidName):
			httpx.WriteError(w, http.StatusBadRequest, "invalid_name", err.Error())
		case errors.Is(err, session.ErrSessionNotFound):
			httpx.WriteError(w, http.StatusNotFound, "not_found", err.Error())
		default:
			s.logger.Error("rename session failed", "session_id", id, "error", err)
			httpx.WriteError(w, http.StatusInternalServerError, "internal", "rename session failed")
		}
		return
	}
	httpx.WriteJSON(w, http.StatusOK, renamed)
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	id, _ := lease.ClaimantFromContext(r.Context())
	if err := s.sessions.Delete(r.Context(), id); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			httpx.WriteError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		s.logger.Error("delete session failed", "session_id", id, "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "delete session failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// requireOwnSession only lets a caller change the session it presents.
func (s *Server) requireOwnSession(id string, next http.HandlerFunc) http.HandlerFunc {
	return s.requireSession(func(w http.ResponseWriter, r *http.Request) {
		if caller, _ := lease.ClaimantFromContext(r.Context()); caller != id {
			httpx.WriteError(w, http.StatusForbidden, "forbidden", "sessions can only be changed by their owner")
			return
		}
		next(w, r)
	})
}

// requireSession resolves the caller's session and attaches it as the
// claimant. The claimant is never taken from the request body.
func (s *Server) requireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := s.requestSessionID(r)
		if id == "" {
			httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "a session is required")
			return
		}
		found, err := s.sessions.Get(r.Context(), id)
		if err != nil {
			if errors.Is(err, session.ErrSessionNotFound) {
				httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "unknown session")
				return
			}
			s.logger.Error("resolve session failed", "error", err)
			httpx.WriteError(w, http.StatusInternalServerError, "internal", "resolve session failed")
			return
		}
		next(w, r.WithContext(lease.WithClaimant(r.Context(), found.ID)))
	}
}

// requestSessionID prefers X-Session-ID. A bearer token counts as a session
// id unless it is the configured API key.
func (s *Server) requestSessionID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(sessionHeader)); id != "" {
		return id
	}
	token := bearerToken(r)
	if token == "" || (s.requiredAPIKey != "" && token == strings.TrimSpace(s.requiredAPIKey)) {
		return ""
	}
	return token
}

func bearerToken(r *http.Request) string {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
