package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/Kodeloom/spacovers-admin/auth"
	"github.com/Kodeloom/spacovers-admin/internal/apperr"
	"github.com/Kodeloom/spacovers-admin/internal/httpx"
	"github.com/google/uuid"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

type requestIDKey struct{}

// RequestIDFromContext returns the id set by RequestID.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(requestIDKey{}).(string)
	return s, ok && s != ""
}

// RequestID assigns every request an id, reusing an incoming X-Request-ID
// when trustHeader is set.
func RequestID(trustHeader bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rid := ""
			if trustHeader {
				rid = r.Header.Get(RequestIDHeader)
			}
			if rid == "" {
				rid = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, rid)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, rid)))
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// RequestLogger logs one line per request. Panics are logged and answered
// with a 500.
func RequestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w}
			defer func() {
				if p := recover(); p != nil {
					log.ErrorContext(r.Context(), "handler panic", "panic", p, "url", r.URL.Path)
					if sw.status == 0 {
						httpx.Error(sw, apperr.Internal(nil, "unexpected error"))
					}
				}
				attrs := []any{
					"method", r.Method,
					"url", r.URL.Path,
					"status", sw.status,
					"duration", time.Since(start),
					"bytes", sw.bytes,
				}
				if rid, ok := RequestIDFromContext(r.Context()); ok {
					attrs = append(attrs, "request_id", rid)
				}
				if uid, ok := auth.UserIDFromContext(r.Context()); ok {
					attrs = append(attrs, "user_id", uid)
				}
				level := slog.LevelInfo
				if sw.status >= 500 {
					level = slog.LevelError
				}
				log.Log(r.Context(), level, "request", attrs...)
			}()
			next.ServeHTTP(sw, r)
		})
	}
}
