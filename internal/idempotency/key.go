// Package idempotency remembers the response of a non-idempotent request so a
// retried request carrying the same Idempotency-Key replays it.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

const (
	DefaultReserveTTL = 30 * time.Second
	DefaultReplayTTL  = 24 * time.Hour
)

var (
	ErrKeyRequired   = errors.New("idempotency key is required")
	ErrOwnerRequired = errors.New("reservation owner is required")
)

// Key identifies one logical request. Caller separates key spaces of
// different sessions; it may be empty for anonymous requests.
type Key struct {
	Scope  string
	Caller string
	Value  string
}

// compound hashes the caller together with the client-chosen value, so two
// sessions sending the same Idempotency-Key never share a reservation or a
// replay. The scope stays readable as a key prefix.
func (k Key) compound() (string, error) {
	scope := strings.TrimSpace(k.Scope)
	value := strings.TrimSpace(k.Value)
	if scope == "" || value == "" {
		return "", ErrKeyRequired
	}
	sum := sha256.Sum256([]byte(strings.TrimSpace(k.Caller) + "|" + value))
	return scope + ":" + hex.EncodeToString(sum[:]), nil
}

// Response is a recorded reply. Fingerprint hashes the original request body
// so a key reused with a different payload can be told apart.
type Response struct {
	StatusCode  int    `json:"status_code"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// Fingerprint hashes a request body for Response.Fingerprint.
func Fingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

type Store interface {
	Lookup(ctx context.Context, key Key) (Response, bool, error)
	Reserve(ctx context.Context, key Key, owner string, ttl time.Duration) (bool, error)
	Record(ctx context.Context, key Key, resp Response, ttl time.Duration) error
	Unreserve(ctx context.Context, key Key, owner string) error
}

func normalizeOwner(owner string) (string, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return "", ErrOwnerRequired
	}
	return owner, nil
}
