package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

const MaxBodyBytes = 1 << 20

var ErrEmptyBody = errors.New("request body is empty")

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e ErrorResponse) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

func WriteJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// DecodeJSON decodes a single JSON value from r, rejecting unknown fields.
func DecodeJSON(r io.Reader, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return ErrEmptyBody
		}
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}

// ReadError extracts the ErrorResponse from a non-2xx reply. Bodies that are
// not JSON are reported verbatim under code "http_<status>".
func ReadError(resp *http.Response) ErrorResponse {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes))
	var out ErrorResponse
	if err := json.Unmarshal(raw, &out); err != nil || out.Code == "" {
		return ErrorResponse{Code: fmt.Sprintf("http_%d", resp.StatusCode), Message: string(raw)}
	}
	return out
}
