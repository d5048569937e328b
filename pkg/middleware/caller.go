package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/psantana5/operator-dao/pkg/auth"
	"github.com/psantana5/operator-dao/pkg/logging"
	"github.com/psantana5/operator-dao/pkg/models"
)

type contextKey string

const (
	CallerContextKey    contextKey = "caller_address"
	RequestIDContextKey contextKey = "request_id"

	CallerHeader    = "X-Caller-Address"
	RequestIDHeader = "X-Request-ID"
)

// WithCaller returns ctx carrying the authenticated caller
func WithCaller(ctx context.Context, addr models.Address) context.Context {
	return context.WithValue(ctx, CallerContextKey, addr)
}

// CallerFrom extracts the authenticated caller from ctx
func CallerFrom(ctx context.Context) (models.Address, bool) {
	addr, ok := ctx.Value(CallerContextKey).(models.Address)
	return addr, ok && addr != ""
}

// CallerMiddleware authenticates the X-Caller-Address header against the
// key ring using the Bearer token. Requests without the header pass
// through anonymously; handlers that mutate state must require a caller.
// An empty key ring trusts the header as-is (open mode).
func CallerMiddleware(keys *auth.KeyRing, logger *logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(CallerHeader)
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}

			addr, err := models.ParseAddress(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid-caller", err.Error())
				return
			}

			if keys != nil && keys.Len() > 0 {
				token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
				if token == "" {
					writeError(w, http.StatusUnauthorized, "unauthenticated", "missing bearer token")
					return
				}
				if err := keys.Verify(addr, token); err != nil {
					logger.Warn("Caller authentication failed", logging.Fields{
						"caller":     string(addr),
						"error":      err.Error(),
						"request_id": RequestIDFrom(r.Context()),
					})
					writeError(w, http.StatusUnauthorized, "unauthenticated", err.Error())
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), addr)))
		})
	}
}

// RequireCaller rejects requests that carry no authenticated caller
func RequireCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := CallerFrom(r.Context()); !ok {
			writeError(w, http.StatusUnauthorized, "unauthenticated", CallerHeader+" header required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequestID tags every request with an id, reusing a client-supplied one
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), RequestIDContextKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestIDFrom returns the request id placed by RequestID
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDContextKey).(string)
	return id
}

// CallerKey keys rate limiting by the caller CallerMiddleware resolved,
// falling back to the client IP for anonymous requests. It must run after
// CallerMiddleware; the raw header is never trusted.
func CallerKey(fallback func(*http.Request) string) func(*http.Request) string {
	return func(r *http.Request) string {
		if addr, ok := CallerFrom(r.Context()); ok {
			return "caller:" + string(addr)
		}
		return "ip:" + fallback(r)
	}
}

func writeError(w http.ResponseWriter, status int, name, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   name,
		"message": message,
	})
}
