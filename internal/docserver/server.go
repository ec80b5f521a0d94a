// Package docserver serves session documents over a jsonblob-compatible
// HTTP API, adding ETag/If-Match so clients get real conditional replaces.
package docserver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-session/internal/docstore"
	"github.com/example/ride-session/internal/models"
	"github.com/example/ride-session/internal/observability"
)

// BlobPath is the collection path; documents live under BlobPath/{id}.
const BlobPath = "/api/jsonBlob"

const maxBodyBytes = 8 << 20

// Pinger is implemented by backends that can report their own health.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	Store     docstore.Versioned
	// PublicURL prefixes Location headers; when empty it is derived from
	// the request.
	PublicURL string

	logger *slog.Logger
	mux    *mux.Router
}

func New(store docstore.Versioned, publicURL string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		Store:     store,
		PublicURL: strings.TrimRight(publicURL, "/"),
		logger:    logger,
		mux:       mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc(BlobPath, s.handleCreate).Methods(http.MethodPost)
	s.mux.HandleFunc(BlobPath+"/{id}", s.handleRead).Methods(http.MethodGet)
	s.mux.HandleFunc(BlobPath+"/{id}", s.handleReplace).Methods(http.MethodPut)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	s.mux.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.decodeBody(w, r)
	if !ok {
		return
	}
	id, err := s.Store.Create(r.Context(), doc)
	if err != nil {
		s.fail(w, r, "create session", err)
		return
	}
	observability.SessionsCreated.Inc()
	w.Header().Set("Location", s.baseURL(r)+BlobPath+"/"+id)
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	doc, ver, err := s.Store.ReadVersion(r.Context(), id)
	if err != nil {
		s.fail(w, r, "read session", err)
		return
	}
	body, err := docstore.Encode(doc)
	if err != nil {
		s.fail(w, r, "encode session", err)
		return
	}
	if ver != "" {
		w.Header().Set("ETag", `"`+string(ver)+`"`)
	}
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

// handleReplace overwrites the document. With If-Match the write only
// lands if the stored version still matches; "*" matches any version.
func (s *Server) handleReplace(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	doc, ok := s.decodeBody(w, r)
	if !ok {
		return
	}
	var err error
	match := strings.TrimSpace(r.Header.Get("If-Match"))
	if match == "" || match == "*" {
		err = s.Store.Replace(r.Context(), id, doc)
	} else {
		expected := docstore.Version(strings.Trim(strings.TrimPrefix(match, "W/"), `"`))
		err = s.Store.ReplaceIf(r.Context(), id, doc, expected)
	}
	if err != nil {
		s.fail(w, r, "replace session", err)
		return
	}
	body, err := docstore.Encode(doc)
	if err != nil {
		s.fail(w, r, "encode session", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if p, ok := s.Store.(Pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			s.logger.Warn("store not ready", "error", err)
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request) (doc models.Document, ok bool) {
	b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "cannot read body", http.StatusRequestEntityTooLarge)
		return doc, false
	}
	doc, err = docstore.Decode(b)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return doc, false
	}
	return doc, true
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		http.Error(w, "session not found", http.StatusNotFound)
	case errors.Is(err, docstore.ErrVersionMismatch):
		http.Error(w, "document version changed", http.StatusPreconditionFailed)
	case errors.Is(err, docstore.ErrMalformed):
		s.logger.Error(op+" failed", "error", err, "request_id", requestIDFromContext(r.Context()))
		http.Error(w, "stored document is malformed", http.StatusInternalServerError)
	default:
		s.logger.Error(op+" failed", "error", err, "request_id", requestIDFromContext(r.Context()))
		http.Error(w, "store unavailable", http.StatusBadGateway)
	}
}

func (s *Server) baseURL(r *http.Request) string {
	if s.PublicURL != "" {
		return s.PublicURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
		scheme = fwd
	}
	return scheme + "://" + r.Host
}
