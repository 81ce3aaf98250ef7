// Package precache asks the provider to start downloading the episodes
// following the one being watched.
package precache

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/byoiap/byoiap/internal/backend"
	"github.com/byoiap/byoiap/internal/indexer"
	"github.com/byoiap/byoiap/internal/mediaid"
	"github.com/byoiap/byoiap/internal/metadata"
	"github.com/byoiap/byoiap/internal/provider"
	"github.com/byoiap/byoiap/internal/ranking"
	"github.com/byoiap/byoiap/internal/release"
)

// SeriesLookup returns the episode table of a series.
type SeriesLookup interface {
	Get(ctx context.Context, seriesID string) (*metadata.SeriesData, error)
}

// Job is everything one user's run needs.
type Job struct {
	Indexer        indexer.Indexer
	IndexerConfig  indexer.Config
	Provider       provider.Provider
	ProviderConfig provider.Config
	Ranker         *ranking.Ranker
	// Count is how many following episodes to precache.
	Count int
}

// Scheduler runs next-episode precaching.
type Scheduler struct {
	series SeriesLookup
	logger zerolog.Logger
}

// NewScheduler creates a scheduler.
func NewScheduler(series SeriesLookup, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		series: series,
		logger: logger.With().Str("component", "precache").Logger(),
	}
}

// CacheNext precaches up to job.Count episodes after id, picking for each the
// release that best continues title. It stops at the first episode it cannot
// handle.
func (s *Scheduler) CacheNext(ctx context.Context, job Job, id mediaid.MediaID, title string) error {
	if !id.IsEpisode() {
		return backend.NewValidationError(fmt.Sprintf("%s is not an episode", id))
	}
	if job.Count <= 0 {
		return nil
	}

	data, err := s.series.Get(ctx, id.ImdbID)
	if err != nil {
		return err
	}

	season, episode := id.Season, id.Episode
	for i := range job.Count {
		season, episode, err = metadata.NextEpisode(data, season, episode)
		if err != nil {
			return &backend.Error{
				Code:    backend.ErrCodeValidation,
				Message: fmt.Sprintf("unable to find episode following %s", id),
				Cause:   err,
			}
		}
		next := id.WithEpisode(season, episode)

		if err := s.cacheEpisode(ctx, job, next, title, i+1); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) cacheEpisode(ctx context.Context, job Job, next mediaid.MediaID, title string, offset int) error {
	start := time.Now()

	check := job.Provider.BuildCacheChecker(ctx, job.ProviderConfig)
	items, err := job.Indexer.Query(ctx, job.IndexerConfig, next)
	if err != nil {
		return err
	}
	if check != nil {
		if _, err := check(ctx, items); err != nil {
			s.logger.Warn().Err(err).Str("id", next.String()).Msg("Cache check failed, statuses unknown")
		}
	}

	best := choose(job.Ranker, items, title, next.Season, next.Episode)
	if best == nil {
		return backend.NewValidationError(fmt.Sprintf("unable to find episode stream matching %s", next))
	}

	log := s.logger.With().
		Str("title", title).
		Int("offset", offset).
		Str("chosen", best.Title).
		Stringer("status", best.Status).
		Logger()

	switch best.Status {
	case indexer.StatusCached, indexer.StatusReady, indexer.StatusDownloading:
		log.Info().Msg("Next episode already available")
		return nil
	}

	if err := job.Provider.Precache(ctx, job.ProviderConfig, provider.SourceFromItem(best, next.String())); err != nil {
		return err
	}
	log.Info().Dur("elapsed", time.Since(start)).Msg("Next episode submitted")
	return nil
}

// choose prefers a release of the same quality whose title lines up with
// title once the episode number is substituted. Compound episodes never
// match. Without such a release it falls back to the top ranked one that has
// not failed.
func choose(r *ranking.Ranker, items []*indexer.Item, title string, season, episode int) *indexer.Item {
	targetQuality := release.ExpectedQuality(title)
	targetTitle := release.ReplaceEpisodeNumber(title, season, episode)

	var best *indexer.Item
	bestCount := -1
	for _, item := range items {
		if item.ExpectedQuality != targetQuality || release.IsCompoundEpisode(item.Title) {
			continue
		}
		if n := release.MatchingCount(targetTitle, item.Title); n > bestCount {
			best, bestCount = item, n
		}
	}
	if best != nil {
		return best
	}

	if r == nil {
		r = ranking.New(ranking.Preferences{})
	}
	return r.Best(items, func(item *indexer.Item) bool {
		return item.Status != indexer.StatusFailed
	})
}
