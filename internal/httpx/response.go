// Package httpx holds JSON request and response helpers shared by handlers.
package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/Kodeloom/spacovers-admin/internal/apperr"
)

// ErrorResponse is the body written for every failed request.
type ErrorResponse struct {
	Error       string         `json:"error"`
	Kind        apperr.Kind    `json:"kind,omitempty"`
	Message     string         `json:"message,omitempty"`
	Suggestions []string       `json:"suggestions,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
}

// maxBody bounds request bodies read by DecodeJSON.
const maxBody = 1 << 20

func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	body := []byte("null")
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			http.Error(w, `{"error":"encode_error"}`, http.StatusInternalServerError)
			return
		}
	}
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func JSONError(w http.ResponseWriter, status int, msg string, details map[string]any) {
	JSON(w, status, ErrorResponse{Error: msg, Details: details})
}

// StatusFor maps an error kind to an HTTP status.
func StatusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict, apperr.KindIsolationViolation:
		return http.StatusConflict
	case apperr.KindPrecondition:
		return http.StatusUnprocessableEntity
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindAuthentication, apperr.KindReauthorizationRequired:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindConnection:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error writes err using its apperr kind. Internal errors hide their cause.
func Error(w http.ResponseWriter, err error) {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		ae = apperr.Internal(err, "internal error")
	}
	resp := ErrorResponse{
		Error:       string(ae.Kind),
		Kind:        ae.Kind,
		Message:     ae.Message,
		Suggestions: ae.Suggestions,
		Details:     ae.Details,
	}
	if ae.Kind == apperr.KindConnection || ae.Retryable() {
		if resp.Details == nil {
			resp.Details = map[string]any{}
		}
		resp.Details["retryable"] = true
	}
	JSON(w, StatusFor(ae.Kind), resp)
}

// DecodeJSON reads a JSON body into dst, rejecting unknown fields. Failures
// are Validation errors.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validation("request body is empty")
		}
		return apperr.Validation("invalid JSON body: %v", err)
	}
	return nil
}

// Violations turns field violations into a Validation error.
func Violations(v map[string]string) error {
	e := apperr.Validation("invalid request")
	for field, msg := range v {
		e.WithDetail(field, msg)
	}
	return e
}

// PathID parses a positive integer path value.
func PathID(r *http.Request, name string) (uint, error) {
	raw := r.PathValue(name)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, apperr.Validation("invalid %s %q", name, raw)
	}
	return uint(id), nil
}
