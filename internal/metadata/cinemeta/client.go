// Package cinemeta reads series episode lists from the Cinemeta catalog.
package cinemeta

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/byoiap/byoiap/internal/backend"
	"github.com/byoiap/byoiap/internal/config"
	"github.com/byoiap/byoiap/internal/metadata"
)

const backendName = "cinemeta"

var ErrSeriesNotFound = errors.New("series not found on Cinemeta")

// Client is a Cinemeta API client.
type Client struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
	retries    uint
	logger     zerolog.Logger
}

// NewClient creates a new Cinemeta client.
func NewClient(cfg config.MetadataConfig, logger zerolog.Logger) *Client {
	limit := rate.Limit(cfg.RequestsPerSecond)
	if cfg.RequestsPerSecond <= 0 {
		limit = rate.Inf
	}

	return &Client{
		httpClient: backend.NewHTTPClient(time.Duration(cfg.Timeout) * time.Second),
		baseURL:    cfg.CinemetaURL,
		limiter:    rate.NewLimiter(limit, max(cfg.Burst, 1)),
		retries:    uint(max(cfg.Retries, 1)),
		logger:     logger.With().Str("component", backendName).Logger(),
	}
}

// Name returns the source name.
func (c *Client) Name() string {
	return backendName
}

// GetSeries fetches the metadata of a series by IMDb id.
func (c *Client) GetSeries(ctx context.Context, imdbID string) (*Meta, error) {
	reqURL := fmt.Sprintf("%s/meta/series/%s.json", c.baseURL, url.PathEscape(imdbID))

	var resp MetaResponse
	err := backend.RetryTransport(ctx, c.retries, 500*time.Millisecond, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		return backend.GetJSON(ctx, c.httpClient, backendName, reqURL, nil, &resp)
	})
	if backend.StatusCode(err) == http.StatusNotFound {
		return nil, ErrSeriesNotFound
	}
	if err != nil {
		return nil, err
	}
	if resp.Meta == nil {
		return nil, ErrSeriesNotFound
	}
	return resp.Meta, nil
}

// Lookup returns the per-season episode counts of a series. Cinemeta does not
// carry the ids of other services.
func (c *Client) Lookup(ctx context.Context, seriesID string) (*metadata.SeriesData, error) {
	meta, err := c.GetSeries(ctx, seriesID)
	if err != nil {
		return nil, err
	}

	data := &metadata.SeriesData{SeriesID: seriesID}
	for _, v := range meta.Videos {
		if n := v.EpisodeNumber(); n > 0 {
			data.SetEpisode(v.Season, n)
		}
	}

	c.logger.Debug().
		Str("seriesId", seriesID).
		Int("videos", len(meta.Videos)).
		Msg("Fetched Cinemeta series data")
	return data, nil
}
