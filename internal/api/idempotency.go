package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/VenkatGGG/leasehold/internal/idempotency"
	"github.com/VenkatGGG/leasehold/pkg/httpx"
)

const (
	idempotencyHeader  = "Idempotency-Key"
	replayedHeader     = "Idempotent-Replayed"
	inFlightWait       = 4 * time.Second
	inFlightPollPeriod = 100 * time.Millisecond
)

// handleIdempotentRequest runs execute at most once per Idempotency-Key and
// replays the recorded response for repeats. It returns false when the
// request carries no key and the caller should execute normally.
func (s *Server) handleIdempotentRequest(w http.ResponseWriter, r *http.Request, scope string, body []byte, execute func(http.ResponseWriter)) bool {
	if s.idempotency == nil {
		return false
	}
	value := strings.TrimSpace(r.Header.Get(idempotencyHeader))
	if value == "" {
		return false
	}

	key := idempotency.Key{Scope: scope, Caller: s.requestSessionID(r), Value: value}
	fingerprint := idempotency.Fingerprint(body)

	if recorded, ok, err := s.idempotency.Lookup(r.Context(), key); err != nil {
		s.writeIdempotencyFailure(w, err)
		return true
	} else if ok {
		replay(w, recorded, fingerprint)
		return true
	}

	owner := "idem-" + strings.ReplaceAll(uuid.NewString(), "-", "")
	reserved, err := s.idempotency.Reserve(r.Context(), key, owner, s.idempotencyLock)
	if err != nil {
		s.writeIdempotencyFailure(w, err)
		return true
	}
	if !reserved {
		if recorded, ok, err := s.waitForRecorded(r.Context(), key); err == nil && ok {
			replay(w, recorded, fingerprint)
			return true
		}
		httpx.WriteError(w, http.StatusConflict, "request_in_progress", "another request with this idempotency key is still in progress")
		return true
	}
	defer func() {
		_ = s.idempotency.Unreserve(context.WithoutCancel(r.Context()), key, owner)
	}()

	rec := httptest.NewRecorder()
	execute(rec)
	result := rec.Result()

	// Server failures are not recorded so the client may retry them.
	if result.StatusCode < http.StatusInternalServerError {
		recorded := idempotency.Response{
			StatusCode:  result.StatusCode,
			ContentType: result.Header.Get("Content-Type"),
			Body:        rec.Body.Bytes(),
			Fingerprint: fingerprint,
		}
		if err := s.idempotency.Record(context.WithoutCancel(r.Context()), key, recorded, s.idempotencyTTL); err != nil {
			s.logger.Warn("record idempotent response failed", "scope", scope, "error", err)
		}
	}
	copyResponse(w, result.Header, result.StatusCode, rec.Body.Bytes())
	return true
}

func (s *Server) waitForRecorded(ctx context.Context, key idempotency.Key) (idempotency.Response, bool, error) {
	waitCtx, cancel := context.WithTimeout(ctx, inFlightWait)
	defer cancel()

	ticker := time.NewTicker(inFlightPollPeriod)
	defer ticker.Stop()

	for {
		recorded, ok, err := s.idempotency.Lookup(waitCtx, key)
		if err != nil {
			return idempotency.Response{}, false, err
		}
		if ok {
			return recorded, true, nil
		}

		select {
		case <-waitCtx.Done():
			return idempotency.Response{}, false, waitCtx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Server) writeIdempotencyFailure(w http.ResponseWriter, err error) {
	s.logger.Error("idempotency store failed", "error", err)
	httpx.WriteError(w, http.StatusInternalServerError, "internal", "idempotency store unavailable")
}

func replay(w http.ResponseWriter, recorded idempotency.Response, fingerprint string) {
	if recorded.Fingerprint != "" && recorded.Fingerprint != fingerprint {
		httpx.WriteError(w, http.StatusUnprocessableEntity, "idempotency_key_reused", "idempotency key was already used with a different request body")
		return
	}
	if contentType := strings.TrimSpace(recorded.ContentType); contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.Header().Set(replayedHeader, "true")
	status := recorded.StatusCode
	if status <= 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(recorded.Body)
}

func copyResponse(w http.ResponseWriter, header http.Header, status int, body []byte) {
	for key, values := range header {
		w.Header().Del(key)
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	if status <= 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
