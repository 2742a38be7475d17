package api

import (
	"bytes"
	"errors"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/VenkatGGG/leasehold/internal/lease"
	"github.com/VenkatGGG/leasehold/internal/resource"
	"github.com/VenkatGGG/leasehold/pkg/httpx"
)

const unknownClaimantName = "Unknown"

type createResourceRequest struct {
	Name string `json:"name"`
}

type createResourceResponse struct {
	ID       string       `json:"id"`
	Resource resourceView `json:"resource"`
}

type claimResourceRequest struct {
	Minutes int    `json:"minutes"`
	Message string `json:"message,omitempty"`
}

// resourceView is the stored record plus fields derived at response time.
type resourceView struct {
	resource.Resource
	Claimed          bool   `json:"claimed"`
	RemainingSeconds int64  `json:"remaining_seconds"`
	ClaimedByName    string `json:"claimed_by_name,omitempty"`
}

func (s *Server) handleResources(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createResource(w, r)
	default:
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func (s *Server) handleResourceByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/resources/")
	parts := strings.Split(path, "/")
	id := strings.TrimSpace(parts[0])
	if id == "" {
		httpx.WriteError(w, http.StatusNotFound, "not_found", "resource id is required")
		return
	}

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			httpx.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
			return
		}
		s.getResource(w, r, id)
		return
	}
	if len(parts) != 2 {
		http.NotFound(w, r)
		return
	}

	switch action := parts[1]; action {
	case "watch":
		if r.Method != http.MethodGet {
			httpx.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
			return
		}
		s.watchResource(w, r, id)
	case "claim", "extend", "release":
		if r.Method != http.MethodPost {
			httpx.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
			return
		}
		s.requireSession(func(w http.ResponseWriter, r *http.Request) {
			s.transitionResource(w, r, action, id)
		})(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) createResource(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, httpx.MaxBodyBytes))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_json", "request body is too large or unreadable")
		return
	}
	execute := func(w http.ResponseWriter) {
		var req createResourceRequest
		if err := httpx.DecodeJSON(bytes.NewReader(body), &req); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
			return
		}
		created, err := s.leases.Create(r.Context(), req.Name)
		s.metrics.observe("create", err)
		if err != nil {
			s.writeLeaseError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusCreated, createResourceResponse{
			ID:       created.ID,
			Resource: s.view(r, created),
		})
	}
	if s.handleIdempotentRequest(w, r, "resources:create", body, execute) {
		return
	}
	execute(w)
}

func (s *Server) getResource(w http.ResponseWriter, r *http.Request, id string) {
	found, err := s.leases.Get(r.Context(), id)
	s.metrics.observe("get", err)
	if err != nil {
		s.writeLeaseError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, s.view(r, found))
}

func (s *Server) transitionResource(w http.ResponseWriter, r *http.Request, action, id string) {
	claimantID, _ := lease.ClaimantFromContext(r.Context())

	var (
		updated resource.Resource
		err     error
	)
	switch action {
	case "claim":
		var req claimResourceRequest
		if decodeErr := httpx.DecodeJSON(r.Body, &req); decodeErr != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
			return
		}
		updated, err = s.leases.Claim(r.Context(), id, claimantID, req.Minutes, req.Message)
	case "extend":
		updated, err = s.leases.Extend(r.Context(), id, claimantID)
	case "release":
		updated, err = s.leases.Release(r.Context(), id, claimantID)
	}
	s.metrics.observe(action, err)
	if err != nil {
		s.writeLeaseError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, s.view(r, updated))
}

func (s *Server) view(r *http.Request, res resource.Resource) resourceView {
	now := s.now()
	out := resourceView{
		Resource: res,
		Claimed:  res.LiveAt(now),
	}
	if !out.Claimed {
		return out
	}
	out.RemainingSeconds = remainingSeconds(res.Remaining(now))
	out.ClaimedByName = unknownClaimantName
	if s.sessions != nil {
		if profile, err := s.sessions.Get(r.Context(), res.ClaimedBy); err == nil {
			out.ClaimedByName = profile.Name
		}
	}
	return out
}

type leaseErrorMapping struct {
	target error
	status int
	code   string
}

var leaseErrorMappings = []leaseErrorMapping{
	{lease.ErrInvalidName, http.StatusBadRequest, "invalid_name"},
	{lease.ErrInvalidDuration, http.StatusBadRequest, "invalid_duration"},
	{lease.ErrInvalidMessage, http.StatusBadRequest, "invalid_message"},
	{lease.ErrNoClaimant, http.StatusUnauthorized, "unauthorized"},
	{lease.ErrNotFound, http.StatusNotFound, "not_found"},
	{lease.ErrAlreadyClaimed, http.StatusConflict, "already_claimed"},
	{lease.ErrNotClaimed, http.StatusConflict, "not_claimed"},
	{lease.ErrNotHolder, http.StatusForbidden, "not_holder"},
}

func (s *Server) writeLeaseError(w http.ResponseWriter, err error) {
	for _, m := range leaseErrorMappings {
		if errors.Is(err, m.target) {
			httpx.WriteError(w, m.status, m.code, m.target.Error())
			return
		}
	}
	s.logger.Error("lease operation failed", "error", err, "retryable", lease.IsRetryable(err))
	httpx.WriteError(w, http.StatusInternalServerError, "internal", "storage failure; re-read the resource before retrying")
}

// remainingSeconds rounds up so a fresh 60 minute claim reports 3600.
func remainingSeconds(d time.Duration) int64 {
	return int64(math.Ceil(d.Seconds()))
}
