// Package pipeline implements artifact generation and the registry operations
// built on top of it.
//
// Create runs fetch -> render snippet -> inject -> hash without holding any
// lock, then commits (store put, registry record, retention eviction) under
// the service write lock. Reads (List, Lookup, Serve) take the read lock, so
// they observe an artifact either fully committed or not at all, and never
// observe it again once Delete has returned.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/pixelpage/internal/artifact"
	"github.com/JakeFAU/pixelpage/internal/hash/sha256"
	"github.com/JakeFAU/pixelpage/internal/metrics"
)

// DefaultMaxEntries is the retention cap used when none is configured.
const DefaultMaxEntries = 100

// Config controls Service behavior.
type Config struct {
	// MaxEntries caps the registry; older artifacts are evicted after each
	// commit. Zero disables eviction.
	MaxEntries int
	// Topic receives lifecycle events. Empty disables publishing.
	Topic string
}

// CreateRequest is the caller's input to Create.
type CreateRequest struct {
	SourceURL string
	Payload   string
}

// Service owns the artifact lifecycle.
type Service struct {
	fetcher   artifact.Fetcher
	renderer  artifact.SnippetRenderer
	injector  artifact.Injector
	store     artifact.Store
	registry  artifact.Registry
	cache     artifact.ContentCache
	publisher artifact.Publisher
	hasher    artifact.Hasher
	clock     artifact.Clock
	cfg       Config
	logger    *zap.Logger
	tracer    trace.Tracer

	mu sync.RWMutex
}

// New constructs a Service. cache and publisher may be nil.
func New(
	fetcher artifact.Fetcher,
	renderer artifact.SnippetRenderer,
	injector artifact.Injector,
	store artifact.Store,
	registry artifact.Registry,
	cache artifact.ContentCache,
	publisher artifact.Publisher,
	hasher artifact.Hasher,
	clock artifact.Clock,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if cfg.MaxEntries < 0 {
		cfg.MaxEntries = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		fetcher:   fetcher,
		renderer:  renderer,
		injector:  injector,
		store:     store,
		registry:  registry,
		cache:     cache,
		publisher: publisher,
		hasher:    hasher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
		tracer:    otel.Tracer("github.com/JakeFAU/pixelpage/internal/pipeline"),
	}
}

// Create fetches req.SourceURL, injects the rendered payload and commits the
// result as a new artifact.
func (s *Service) Create(ctx context.Context, req CreateRequest) (artifact.Metadata, error) {
	ctx, span := s.tracer.Start(ctx, "pipeline.Create")
	defer span.End()

	meta, evicted, err := s.create(ctx, req)
	metrics.ObserveCreate(string(artifact.KindOf(err)))
	if err != nil {
		s.logger.Warn("create failed",
			zap.String("source_url", req.SourceURL),
			zap.String("kind", string(artifact.KindOf(err))),
			zap.Error(err),
		)
		return artifact.Metadata{}, recordSpanError(span, err)
	}
	span.SetAttributes(attribute.String("artifact.id", meta.ID))
	s.logger.Info("artifact created",
		zap.String("artifact_id", meta.ID),
		zap.String("source_url", meta.SourceURL),
		zap.Int("size", meta.Size),
	)

	s.publish(ctx, artifact.EventCreated, meta)
	for _, old := range evicted {
		s.publish(ctx, artifact.EventDeleted, old)
	}
	return meta, nil
}

func (s *Service) create(ctx context.Context, req CreateRequest) (artifact.Metadata, []artifact.Metadata, error) {
	sourceURL := strings.TrimSpace(req.SourceURL)
	if sourceURL == "" {
		return artifact.Metadata{}, nil, fmt.Errorf("%w: source url is required", artifact.ErrInvalidURL)
	}
	if strings.TrimSpace(req.Payload) == "" {
		return artifact.Metadata{}, nil, fmt.Errorf("%w: payload is required", artifact.ErrInvalidPayload)
	}
	snippet, err := s.renderer.Render(req.Payload)
	if err != nil {
		if errors.Is(err, artifact.ErrInvalidPayload) {
			return artifact.Metadata{}, nil, err
		}
		return artifact.Metadata{}, nil, fmt.Errorf("%w: %w", artifact.ErrInvalidPayload, err)
	}

	s.logger.Debug("fetching", zap.String("source_url", sourceURL))
	raw, err := s.fetch(ctx, sourceURL)
	if err != nil {
		return artifact.Metadata{}, nil, err
	}

	s.logger.Debug("injecting", zap.String("source_url", sourceURL), zap.Int("bytes", len(raw.Body)))
	_, injectSpan := s.tracer.Start(ctx, "pipeline.inject")
	content, err := s.injector.Inject(raw, snippet)
	injectSpan.End()
	if err != nil {
		return artifact.Metadata{}, nil, fmt.Errorf("inject %s: %w", sourceURL, err)
	}

	digest, err := s.hasher.Hash(content)
	if err != nil {
		return artifact.Metadata{}, nil, fmt.Errorf("%w: hash content: %w", artifact.ErrStoreFailed, err)
	}
	meta := artifact.Metadata{
		SourceURL:   sourceURL,
		Payload:     req.Payload,
		ContentHash: digest,
		Size:        len(content),
		CreatedAt:   s.clock.Now().UTC(),
	}

	s.logger.Debug("persisting", zap.String("source_url", sourceURL))
	// Once the commit starts it runs to completion, so a caller hanging up
	// cannot leave content stored without a registry entry.
	return s.commit(context.WithoutCancel(ctx), content, meta)
}

func (s *Service) fetch(ctx context.Context, sourceURL string) (artifact.Markup, error) {
	ctx, span := s.tracer.Start(ctx, "pipeline.fetch", trace.WithAttributes(attribute.String("url.full", sourceURL)))
	defer span.End()

	start := time.Now()
	raw, err := s.fetcher.Fetch(ctx, sourceURL)
	outcome := "ok"
	if err != nil {
		outcome = string(artifact.KindOf(err))
	}
	if !errors.Is(err, artifact.ErrInvalidURL) {
		metrics.ObserveFetch(metrics.SanitizeSite(sourceURL), outcome, len(raw.Body), time.Since(start))
	}
	if err != nil {
		return artifact.Markup{}, recordSpanError(span, err)
	}
	span.SetAttributes(attribute.Int("http.response.status_code", raw.StatusCode))
	return raw, nil
}

func (s *Service) commit(
	ctx context.Context,
	content []byte,
	meta artifact.Metadata,
) (artifact.Metadata, []artifact.Metadata, error) {
	ctx, span := s.tracer.Start(ctx, "pipeline.commit")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.store.Put(ctx, content, meta)
	if err != nil {
		return artifact.Metadata{}, nil, recordSpanError(span, fmt.Errorf("store content: %w", err))
	}
	meta.ID = id

	if err := s.registry.Record(ctx, meta); err != nil {
		if delErr := s.store.Delete(ctx, id); delErr != nil {
			s.logger.Error("compensating delete failed",
				zap.String("artifact_id", id),
				zap.Error(delErr),
			)
		}
		return artifact.Metadata{}, nil, recordSpanError(span,
			fmt.Errorf("%w: record %s: %w", artifact.ErrStoreFailed, id, err))
	}

	return meta, s.evictLocked(ctx), nil
}

// evictLocked removes entries beyond the retention cap, oldest first.
func (s *Service) evictLocked(ctx context.Context) []artifact.Metadata {
	if s.cfg.MaxEntries == 0 {
		return nil
	}
	entries, err := s.registry.List(ctx)
	if err != nil {
		s.logger.Error("list for eviction failed", zap.Error(err))
		return nil
	}
	if len(entries) <= s.cfg.MaxEntries {
		metrics.SetLiveArtifacts(len(entries))
		return nil
	}
	var evicted []artifact.Metadata
	for i := len(entries) - 1; i >= s.cfg.MaxEntries; i-- {
		old := entries[i]
		if err := s.deleteLocked(ctx, old.ID); err != nil {
			s.logger.Error("evict failed", zap.String("artifact_id", old.ID), zap.Error(err))
			continue
		}
		s.logger.Info("artifact evicted", zap.String("artifact_id", old.ID))
		evicted = append(evicted, old)
	}
	metrics.SetLiveArtifacts(len(entries) - len(evicted))
	return evicted
}

// List returns live artifacts, newest first.
func (s *Service) List(ctx context.Context) ([]artifact.Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := s.registry.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list: %w", artifact.ErrStoreFailed, err)
	}
	metrics.SetLiveArtifacts(len(entries))
	return entries, nil
}

// Lookup returns the metadata for id.
func (s *Service) Lookup(ctx context.Context, id string) (artifact.Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meta, err := s.registry.Lookup(ctx, id)
	if err != nil {
		return artifact.Metadata{}, registryError(err)
	}
	return meta, nil
}

// Serve returns the stored bytes for id, unchanged.
func (s *Service) Serve(ctx context.Context, id string) (artifact.Content, error) {
	ctx, span := s.tracer.Start(ctx, "pipeline.Serve", trace.WithAttributes(attribute.String("artifact.id", id)))
	defer span.End()

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.cache != nil {
		if content, ok := s.cache.Get(id); ok {
			metrics.ObserveServe("cache_hit")
			return content, nil
		}
	}

	body, err := s.store.Get(ctx, id)
	if err != nil {
		metrics.ObserveServe(string(artifact.KindOf(err)))
		return artifact.Content{}, recordSpanError(span, err)
	}
	digest, err := s.hasher.Hash(body)
	if err != nil {
		return artifact.Content{}, recordSpanError(span, fmt.Errorf("%w: hash content: %w", artifact.ErrStoreFailed, err))
	}
	content := artifact.Content{ID: id, Body: body, ETag: sha256.ETag(digest)}
	if s.cache != nil {
		s.cache.Set(id, content)
	}
	metrics.ObserveServe("ok")
	return content, nil
}

// Delete removes the artifact. A second delete of the same id fails with
// artifact.ErrNotFound.
func (s *Service) Delete(ctx context.Context, id string) error {
	ctx, span := s.tracer.Start(ctx, "pipeline.Delete", trace.WithAttributes(attribute.String("artifact.id", id)))
	defer span.End()

	s.mu.Lock()
	meta, lookupErr := s.registry.Lookup(ctx, id)
	err := s.deleteLocked(context.WithoutCancel(ctx), id)
	s.mu.Unlock()

	metrics.ObserveDelete(string(artifact.KindOf(err)))
	if err != nil {
		return recordSpanError(span, err)
	}
	s.logger.Info("artifact deleted", zap.String("artifact_id", id))
	if lookupErr != nil {
		meta = artifact.Metadata{ID: id}
	}
	s.publish(ctx, artifact.EventDeleted, meta)
	return nil
}

func (s *Service) deleteLocked(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	if s.cache != nil {
		s.cache.Delete(id)
	}
	if err := s.registry.Remove(ctx, id); err != nil && !errors.Is(err, artifact.ErrNotFound) {
		return fmt.Errorf("%w: unregister %s: %w", artifact.ErrStoreFailed, id, err)
	}
	return nil
}

// ClearCache drops every cached page.
func (s *Service) ClearCache() {
	if s.cache == nil {
		return
	}
	s.cache.Flush()
	s.logger.Info("serve cache cleared")
}

func (s *Service) publish(ctx context.Context, eventType artifact.EventType, meta artifact.Metadata) {
	if s.publisher == nil || s.cfg.Topic == "" {
		return
	}
	ev := artifact.Event{Type: eventType, Artifact: meta, OccurredAt: s.clock.Now().UTC()}
	msgID, err := s.publisher.Publish(ctx, s.cfg.Topic, ev)
	if err != nil {
		metrics.ObserveEvent("error")
		s.logger.Warn("event publish failed",
			zap.String("event", string(eventType)),
			zap.String("artifact_id", meta.ID),
			zap.Error(err),
		)
		return
	}
	metrics.ObserveEvent("ok")
	s.logger.Debug("event published",
		zap.String("event", string(eventType)),
		zap.String("artifact_id", meta.ID),
		zap.String("message_id", msgID),
	)
}

func registryError(err error) error {
	if errors.Is(err, artifact.ErrNotFound) {
		return err
	}
	return fmt.Errorf("%w: %w", artifact.ErrStoreFailed, err)
}

func recordSpanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, string(artifact.KindOf(err)))
	return err
}
