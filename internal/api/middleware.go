package api

import (
	"context"
	"crypto/subtle"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/rag-crawler/internal/apperr"
	"github.com/JakeFAU/rag-crawler/internal/ratelimit"
)

type (
	requestIDKey struct{}
	identityKey  struct{}
)

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("request_id", requestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered",
					zap.String("request_id", requestID(r.Context())),
					zap.Any("panic", rec),
					zap.Stack("stack"))
				s.writeError(w, apperr.Internal("internal server error", nil))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

const timeoutBody = `{"error":{"code":"REQUEST_TIMEOUT","message":"request timed out"}}`

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, timeoutBody)
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" || subtle.ConstantTimeCompare([]byte(key), []byte(expected)) != 1 {
				writeErrorBody(w, http.StatusUnauthorized, apperr.CodeUnauthorized, "missing or invalid API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// identityMiddleware resolves the caller from the identity header, falling
// back to the remote address.
func (s *Server) identityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(s.cfg.Auth.IdentityHeader)
		if id == "" {
			id = remoteIP(r.RemoteAddr)
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)))
	})
}

func identity(ctx context.Context) string {
	id, _ := ctx.Value(identityKey{}).(string)
	return id
}

func remoteIP(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// limitMiddleware applies the per-identity request budget.
func (s *Server) limitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		status, err := s.deps.Limiter.Check(r.Context(), identity(r.Context()))
		if err != nil {
			s.writeError(w, apperr.New(apperr.CodeUnavailable, "rate limiter unavailable", err))
			return
		}
		if !s.applyRateLimit(w, status) {
			return
		}
		next.ServeHTTP(w, r)
	})
}

// applyRateLimit sets the rate-limit headers and writes a 429 when status
// denies the call. It reports whether the call may proceed.
func (s *Server) applyRateLimit(w http.ResponseWriter, status ratelimit.Status) bool {
	h := w.Header()
	h.Set("X-RateLimit-Remaining", strconv.Itoa(status.Remaining))
	h.Set("X-RateLimit-Hourly-Remaining", strconv.Itoa(status.HourlyRemaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(status.ResetTime, 10))
	h.Set("X-RateLimit-Backend", status.Backend)
	if status.Degraded {
		h.Set("X-RateLimit-Degraded", "true")
	}
	if status.Allowed {
		return true
	}
	h.Set("Retry-After", strconv.Itoa(status.RetryAfter))
	s.writeJSON(w, http.StatusTooManyRequests, rateLimitedBody{
		Error: errorDetail{
			Code:    apperr.CodeRateLimited,
			Message: "rate limit exceeded, retry after " + strconv.Itoa(status.RetryAfter) + "s",
		},
		RetryAfter: status.RetryAfter,
	})
	return false
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
