package docserver

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/example/ride-session/internal/observability"
)

type contextKey string

const requestIDKey contextKey = "request-id"

// Write modes reported for POST and PUT.
const (
	writeCreate        = "create"
	writeConditional   = "conditional"
	writeUnconditional = "unconditional"
)

func (s *Server) registerMiddleware() {
	s.mux.Use(s.recoverMiddleware)
	s.mux.Use(s.requestIDMiddleware)
	s.mux.Use(s.accessLogMiddleware)
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, reqID)))
	})
}

// accessLogMiddleware records every request, and for document writes also
// how the If-Match precondition played out.
func (s *Server) accessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		route := routeTemplate(r)
		status := strconv.Itoa(rec.status)
		observability.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
		observability.HTTPRequestDuration.WithLabelValues(r.Method, route, status).Observe(elapsed.Seconds())

		attrs := []slog.Attr{
			slog.String("method", r.Method),
			slog.String("route", route),
			slog.Int("status", rec.status),
			slog.Int64("duration_ms", elapsed.Milliseconds()),
			slog.Int("bytes", rec.bytes),
			slog.String("remote_addr", remoteIP(r)),
		}
		if rid := requestIDFromContext(r.Context()); rid != "" {
			attrs = append(attrs, slog.String("request_id", rid))
		}
		if id := mux.Vars(r)["id"]; id != "" {
			attrs = append(attrs, slog.String("session_id", id))
		}
		if mode := writeMode(r); mode != "" {
			outcome := writeOutcome(rec.status)
			observability.DocumentWrites.WithLabelValues(route, mode, outcome).Inc()
			attrs = append(attrs, slog.Group("write", slog.String("mode", mode), slog.String("outcome", outcome)))
		}
		s.logger.LogAttrs(r.Context(), logLevel(rec.status), "http_request", attrs...)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				s.logger.Error("panic recovered", "error", v, "path", r.URL.Path, "request_id", requestIDFromContext(r.Context()))
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// writeMode classifies a request as a document write, or returns "" for
// anything else.
func writeMode(r *http.Request) string {
	switch r.Method {
	case http.MethodPost:
		return writeCreate
	case http.MethodPut:
		if m := strings.TrimSpace(r.Header.Get("If-Match")); m != "" && m != "*" {
			return writeConditional
		}
		return writeUnconditional
	}
	return ""
}

func writeOutcome(status int) string {
	switch {
	case status < 300:
		return "applied"
	case status == http.StatusPreconditionFailed:
		return "stale"
	case status == http.StatusNotFound:
		return "missing"
	case status < 500:
		return "rejected"
	default:
		return "error"
	}
}

// logLevel logs a 412, a lost CAS race, at debug.
func logLevel(status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status == http.StatusPreconditionFailed:
		return slog.LevelDebug
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

func requestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

func routeTemplate(r *http.Request) string {
	if current := mux.CurrentRoute(r); current != nil {
		if tmpl, err := current.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return r.URL.Path
}

func remoteIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
