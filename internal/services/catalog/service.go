// Package catalog holds the TCIA collection list and fills in the modality and
// body-part facets of every collection in the background.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"tciasync-desktop/internal/events"
	"tciasync-desktop/internal/models"
	"tciasync-desktop/internal/shared"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"
)

// Service caches the catalog. Facets are fetched by two pipelines (modalities,
// body parts) that run concurrently with each other, each with a single worker
// draining a queue of collection indexes in order.
type Service struct {
	source  Source
	emitter events.Emitter
	logger  *log.Logger
	limiter *rate.Limiter

	mu          sync.RWMutex
	collections []models.Collection
	epoch       uint64
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewService creates a catalog service. requestsPerSecond <= 0 disables throttling.
func NewService(source Source, emitter events.Emitter, logger *log.Logger, requestsPerSecond float64, burst int) *Service {
	if emitter == nil {
		emitter = events.Discard
	}
	if logger == nil {
		logger = shared.DiscardLogger()
	}
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	if burst < 1 {
		burst = 1
	}

	return &Service{
		source:  source,
		emitter: emitter,
		logger:  logger.With("component", "catalog"),
		limiter: rate.NewLimiter(limit, burst),
	}
}

// Load fetches the collection names, publishes them with pending facets and
// starts the facet pipelines. It returns once the names are known; use Wait
// to block until every facet has resolved. A new Load supersedes the previous one.
func (s *Service) Load(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.epoch++
	epoch := s.epoch
	pipelineCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	done := make(chan struct{})
	s.done = done
	s.mu.Unlock()

	names, err := s.source.GetCollectionValues(pipelineCtx)
	if err != nil {
		close(done)
		if s.isCurrent(epoch) {
			return fmt.Errorf("failed to list collections: %w", err)
		}
		return shared.ErrSuperseded
	}

	collections := make([]models.Collection, len(names))
	for i, name := range names {
		collections[i] = models.Collection{
			Name:       name,
			Modalities: models.FacetPending,
			BodyParts:  models.FacetPending,
		}
	}

	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		close(done)
		return shared.ErrSuperseded
	}
	s.collections = collections
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.logger.Info("Loaded collections", "count", len(names))
	s.emitter.Emit(events.CatalogLoaded, LoadedEvent{Collections: snapshot})

	if len(names) == 0 {
		close(done)
		return nil
	}

	facets := []facet{
		{
			name:  "modalities",
			fetch: s.source.GetModalityValues,
			apply: func(c *models.Collection, v string) { c.Modalities = v },
		},
		{
			name:  "body parts",
			fetch: s.source.GetBodyPartValues,
			apply: func(c *models.Collection, v string) { c.BodyParts = v },
		},
	}

	var wg sync.WaitGroup
	for _, f := range facets {
		queue := make(chan int, len(names))
		for i := range names {
			queue <- i
		}
		close(queue)

		wg.Add(1)
		go func(f facet) {
			defer wg.Done()
			s.runPipeline(pipelineCtx, epoch, names, f, queue)
		}(f)
	}

	go func() {
		wg.Wait()
		close(done)
	}()

	return nil
}

// runPipeline resolves one facet for every queued collection, one at a time.
func (s *Service) runPipeline(ctx context.Context, epoch uint64, names []string, f facet, queue <-chan int) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Facet pipeline panicked", "facet", f.name, "panic", r)
		}
	}()

	for i := range queue {
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}

		values, err := f.fetch(ctx, names[i])
		if ctx.Err() != nil {
			return
		}

		value := JoinFacet(values)
		if err != nil {
			s.logger.Warn("Facet query failed", "facet", f.name, "collection", names[i], "error", err)
			value = models.FacetUnavailable
		}

		if !s.applyFacet(epoch, i, f, value) {
			return
		}
	}
}

func (s *Service) applyFacet(epoch uint64, index int, f facet, value string) bool {
	s.mu.Lock()
	if epoch != s.epoch || index >= len(s.collections) {
		s.mu.Unlock()
		return false
	}
	f.apply(&s.collections[index], value)
	collection := s.collections[index]
	s.mu.Unlock()

	s.emitter.Emit(events.CatalogCollection, CollectionEvent{Index: index, Collection: collection})
	return true
}

// Wait blocks until the pipelines of the latest Load have drained
func (s *Service) Wait(ctx context.Context) error {
	s.mu.RLock()
	done := s.done
	s.mu.RUnlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels any running pipeline
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// Collections returns a snapshot of the catalog
func (s *Service) Collections() []models.Collection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Filter returns the collections whose name matches a glob pattern
func (s *Service) Filter(pattern string) []models.Collection {
	match := shared.GlobMatcher(pattern)

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Collection, 0, len(s.collections))
	for _, c := range s.collections {
		if match(c.Name) {
			out = append(out, c)
		}
	}
	return out
}

func (s *Service) isCurrent(epoch uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return epoch == s.epoch
}

func (s *Service) snapshotLocked() []models.Collection {
	out := make([]models.Collection, len(s.collections))
	copy(out, s.collections)
	return out
}

// JoinFacet sorts facet values and joins them for display
func JoinFacet(values []string) string {
	sorted := make([]string, len(values))
	copy(sorted, values)
	sort.Strings(sorted)
	return strings.Join(sorted, ", ")
}
