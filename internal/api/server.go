package api

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/pixelpage/internal/artifact"
	"github.com/JakeFAU/pixelpage/internal/config"
	"github.com/JakeFAU/pixelpage/internal/metrics"
	"github.com/JakeFAU/pixelpage/internal/middleware"
	"github.com/JakeFAU/pixelpage/internal/pipeline"
)

const maxRequestBody = 1 << 20

// ArtifactService is the subset of pipeline.Service the handlers use.
type ArtifactService interface {
	Create(ctx context.Context, req pipeline.CreateRequest) (artifact.Metadata, error)
	List(ctx context.Context) ([]artifact.Metadata, error)
	Lookup(ctx context.Context, id string) (artifact.Metadata, error)
	Serve(ctx context.Context, id string) (artifact.Content, error)
	Delete(ctx context.Context, id string) error
	ClearCache()
}

// Server wires HTTP handlers to the artifact service.
type Server struct {
	router chi.Router
	svc    ArtifactService
	cfg    config.Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(svc ArtifactService, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		svc:    svc,
		cfg:    cfg,
		logger: logger,
	}
	timeout := cfg.RequestTimeout()
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Recover(logger))
	r.Use(metrics.Middleware)
	r.Use(middleware.Timeout(timeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/artifacts", func(r chi.Router) {
		r.Post("/", s.createArtifact)
		r.Get("/", s.listArtifacts)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getArtifact)
			r.Delete("/", s.deleteArtifact)
		})
	})
	r.Get("/view/{id}", s.viewArtifact)
	r.Head("/view/{id}", s.viewArtifact)
	r.Post("/maintenance/clear-cache", s.clearCache)

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz reports ready once the registry answers a listing.
func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.svc.List(r.Context()); err != nil {
		s.logger.Warn("readiness check failed", zap.Error(err))
		s.writeError(w, http.StatusServiceUnavailable, "registry unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type createRequest struct {
	SourceURL string `json:"source_url"`
	Payload   string `json:"payload"`
}

type artifactResponse struct {
	ID        string    `json:"id"`
	SourceURL string    `json:"source_url"`
	Payload   string    `json:"payload,omitempty"`
	Size      int       `json:"size,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ViewURL   string    `json:"view_url"`
}

func (s *Server) createArtifact(w http.ResponseWriter, r *http.Request) {
	req, err := decodeCreateRequest(w, r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	meta, err := s.svc.Create(r.Context(), pipeline.CreateRequest{
		SourceURL: req.SourceURL,
		Payload:   req.Payload,
	})
	if err != nil {
		s.writeServiceError(w, r, "create artifact failed", err)
		return
	}
	viewURL := artifact.ViewURL(s.baseURL(r), meta.ID)
	w.Header().Set("Location", viewURL)
	s.writeJSON(w, http.StatusCreated, artifactResponse{
		ID:        meta.ID,
		SourceURL: meta.SourceURL,
		CreatedAt: meta.CreatedAt,
		ViewURL:   viewURL,
	})
}

func (s *Server) listArtifacts(w http.ResponseWriter, r *http.Request) {
	metas, err := s.svc.List(r.Context())
	if err != nil {
		s.writeServiceError(w, r, "list artifacts failed", err)
		return
	}
	base := s.baseURL(r)
	out := make([]artifactResponse, 0, len(metas))
	for _, meta := range metas {
		out = append(out, toResponse(meta, base))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"artifacts": out})
}

func (s *Server) getArtifact(w http.ResponseWriter, r *http.Request) {
	meta, err := s.svc.Lookup(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, "lookup artifact failed", err)
		return
	}
	s.writeJSON(w, http.StatusOK, toResponse(meta, s.baseURL(r)))
}

func (s *Server) deleteArtifact(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeServiceError(w, r, "delete artifact failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) viewArtifact(w http.ResponseWriter, r *http.Request) {
	content, err := s.svc.Serve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		s.writeServiceError(w, r, "serve artifact failed", err)
		return
	}

	h := w.Header()
	h.Set("ETag", content.ETag)
	h.Set("Cache-Control", "no-cache")
	if etagMatches(r.Header.Get("If-None-Match"), content.ETag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	contentType := s.cfg.Storage.ContentType
	if contentType == "" {
		contentType = "text/html; charset=utf-8"
	}
	h.Set("Content-Type", contentType)
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(content.Body); err != nil {
		s.logger.Warn("write artifact body failed", zap.String("artifact_id", content.ID), zap.Error(err))
	}
}

func (s *Server) clearCache(w http.ResponseWriter, _ *http.Request) {
	s.svc.ClearCache()
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// decodeCreateRequest accepts a JSON body or a form using either the JSON
// field names or original_url/pixel_id.
func decodeCreateRequest(w http.ResponseWriter, r *http.Request) (createRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		if err := r.ParseMultipartForm(maxRequestBody); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			return createRequest{}, errors.New("invalid form")
		}
		return createRequest{
			SourceURL: firstNonEmpty(r.PostFormValue("source_url"), r.PostFormValue("original_url")),
			Payload:   firstNonEmpty(r.PostFormValue("payload"), r.PostFormValue("pixel_id")),
		}, nil
	default:
		var req createRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return createRequest{}, errors.New("invalid JSON")
		}
		return req, nil
	}
}

func (s *Server) baseURL(r *http.Request) string {
	if s.cfg.Server.BaseURL != "" {
		return s.cfg.Server.BaseURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = strings.ToLower(strings.TrimSpace(strings.Split(proto, ",")[0]))
	}
	return scheme + "://" + r.Host
}

func toResponse(meta artifact.Metadata, base string) artifactResponse {
	return artifactResponse{
		ID:        meta.ID,
		SourceURL: meta.SourceURL,
		Payload:   meta.Payload,
		Size:      meta.Size,
		CreatedAt: meta.CreatedAt,
		ViewURL:   artifact.ViewURL(base, meta.ID),
	}
}

func statusFor(err error) int {
	switch artifact.KindOf(err) {
	case artifact.KindInvalidURL, artifact.KindInvalidPayload:
		return http.StatusBadRequest
	case artifact.KindFetchFailed:
		return http.StatusBadGateway
	case artifact.KindParseError:
		return http.StatusUnprocessableEntity
	case artifact.KindNotFound:
		return http.StatusNotFound
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := statusFor(err)
	fields := []zap.Field{
		zap.String("request_id", middleware.RequestIDFromContext(r.Context())),
		zap.String("kind", string(artifact.KindOf(err))),
		zap.Int("status", status),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error(msg, fields...)
	} else {
		s.logger.Info(msg, fields...)
	}
	s.writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"kind":  string(artifact.KindOf(err)),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func etagMatches(header, etag string) bool {
	if header == "" || etag == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
