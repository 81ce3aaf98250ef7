package metadata

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
)

// Source is one provider of series ids and episode lists.
type Source interface {
	Name() string
	Lookup(ctx context.Context, seriesID string) (*SeriesData, error)
}

// Service merges the data of all configured sources.
type Service struct {
	sources []Source
	logger  zerolog.Logger
}

// NewService creates a new metadata service.
func NewService(logger zerolog.Logger, sources ...Source) *Service {
	return &Service{
		sources: sources,
		logger:  logger.With().Str("component", "metadata").Logger(),
	}
}

// Fetch queries every source concurrently and merges the results. Failing
// sources are logged and skipped, so the result may be partial or, when all
// sources fail, carry no episodes at all.
func (s *Service) Fetch(ctx context.Context, seriesID string) *SeriesData {
	p := pool.NewWithResults[*SeriesData]().WithContext(ctx)
	for _, src := range s.sources {
		p.Go(func(ctx context.Context) (*SeriesData, error) {
			data, err := src.Lookup(ctx, seriesID)
			if err != nil {
				s.logger.Warn().Err(err).
					Str("source", src.Name()).
					Str("seriesId", seriesID).
					Msg("Series lookup failed")
				return nil, err
			}
			return data, nil
		})
	}
	results, err := p.Wait()

	merged := &SeriesData{SeriesID: seriesID}
	for _, data := range results {
		merged.Merge(data)
	}

	if err != nil && len(results) == 0 {
		s.logger.Error().Str("seriesId", seriesID).Msg("All series sources failed")
	}
	return merged
}
