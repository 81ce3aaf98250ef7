package addon

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"github.com/byoiap/byoiap/internal/backend"
	"github.com/byoiap/byoiap/internal/indexer"
	"github.com/byoiap/byoiap/internal/mediaid"
	"github.com/byoiap/byoiap/internal/precache"
	"github.com/byoiap/byoiap/internal/provider"
	"github.com/byoiap/byoiap/internal/ranking"
	"github.com/byoiap/byoiap/internal/resolve"
)

// Service implements the addon operations for decoded configurations.
type Service struct {
	indexers  *indexer.Registry
	providers *provider.Registry
	resolver  *resolve.Orchestrator
	scheduler *precache.Scheduler
	limits    ranking.Limits
	now       func() time.Time
	logger    zerolog.Logger
}

// NewService creates the addon service.
func NewService(
	indexers *indexer.Registry,
	providers *provider.Registry,
	resolver *resolve.Orchestrator,
	scheduler *precache.Scheduler,
	logger zerolog.Logger,
) *Service {
	return &Service{
		indexers:  indexers,
		providers: providers,
		resolver:  resolver,
		scheduler: scheduler,
		limits:    ranking.DefaultLimits(),
		now:       time.Now,
		logger:    logger.With().Str("component", "addon").Logger(),
	}
}

// SetLimits overrides the ranking limits.
func (s *Service) SetLimits(limits ranking.Limits) {
	s.limits = limits
}

func (s *Service) backends(cfg Config) (indexer.Indexer, provider.Provider, error) {
	idx, ok := s.indexers.Get(cfg.Indexer.ID)
	if !ok {
		return nil, nil, backend.NewValidationError(fmt.Sprintf("%s does not have a registered indexer", cfg.Indexer.ID))
	}
	prov, ok := s.providers.Get(cfg.Provider.ID)
	if !ok {
		return nil, nil, backend.NewValidationError(fmt.Sprintf("%s does not have a registered provider", cfg.Provider.ID))
	}
	return idx, prov, nil
}

func (s *Service) ranker(cfg Config) *ranking.Ranker {
	return &ranking.Ranker{Preferences: cfg.Shared.Preferences(), Limits: s.limits}
}

// StreamRequest is one stream listing request.
type StreamRequest struct {
	Config Config
	// Token and Origin are used to build the URLs streams point back to.
	Token  string
	Origin string
	ID     mediaid.MediaID
}

// QueryStreams lists the streams for a movie or episode, ready and cached
// ones first.
func (s *Service) QueryStreams(ctx context.Context, req StreamRequest) ([]ranking.Stream, error) {
	start := time.Now()
	cfg := req.Config

	idx, prov, err := s.backends(cfg)
	if err != nil {
		return nil, err
	}

	// The checker may start provider requests that overlap with the query.
	check := prov.BuildCacheChecker(ctx, cfg.Provider)
	items, err := idx.Query(ctx, cfg.Indexer, req.ID)
	if err != nil {
		return nil, err
	}

	checked := make(chan error, 1)
	go func() {
		_, err := check(ctx, slices.Clone(items))
		checked <- err
	}()

	r := s.ranker(cfg)
	r.Sort(items)

	if err := <-checked; err != nil {
		s.logger.Warn().Err(err).Str("id", req.ID.String()).Msg("Cache check failed, listing without statuses")
	}

	builder := &ranking.StreamBuilder{
		Origin:      req.Origin,
		ConfigToken: req.Token,
		MediaID:     req.ID,
		CacheNext:   cfg.Shared.NextEpisodeCacheCount > 0,
		Now:         s.now,
	}
	streams := builder.BuildAll(r.Assemble(items))

	s.logger.Info().
		Str("id", req.ID.String()).
		Int("items", len(items)).
		Msgf("Got %d streams in %dms", len(streams), time.Since(start).Milliseconds())
	return streams, nil
}

// Resolve turns a resolve request URL into a redirect.
func (s *Service) Resolve(ctx context.Context, cfg Config, requestURL *url.URL) (resolve.Outcome, error) {
	prov, ok := s.providers.Get(cfg.Provider.ID)
	if !ok {
		return resolve.Outcome{}, backend.NewValidationError(fmt.Sprintf("%s does not have a registered provider", cfg.Provider.ID))
	}
	src, err := provider.SourceFromQuery(requestURL.Query())
	if err != nil {
		return resolve.Outcome{}, err
	}

	return s.resolver.Resolve(ctx, resolve.Request{
		URL:          requestURL,
		Source:       src,
		Provider:     prov,
		Config:       cfg.Provider,
		RetrySeconds: cfg.Shared.PendingRetrySeconds,
	}), nil
}

// PrecacheNext precaches the episodes following id, matching title's release.
func (s *Service) PrecacheNext(ctx context.Context, cfg Config, id mediaid.MediaID, title string) error {
	idx, prov, err := s.backends(cfg)
	if err != nil {
		return err
	}
	return s.scheduler.CacheNext(ctx, precache.Job{
		Indexer:        idx,
		IndexerConfig:  cfg.Indexer,
		Provider:       prov,
		ProviderConfig: cfg.Provider,
		Ranker:         s.ranker(cfg),
		Count:          cfg.Shared.NextEpisodeCacheCount,
	}, id, title)
}
