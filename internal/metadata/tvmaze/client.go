// Package tvmaze looks up show ids and episode lists on TVMaze.
package tvmaze

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

const backendName = "tvmaze"

var ErrShowNotFound = errors.New("show not found on TVMaze")

// Client is a TVMaze API client.
type Client struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
	retries    uint
	logger     zerolog.Logger
}

// NewClient creates a new TVMaze client.
func NewClient(cfg config.MetadataConfig, logger zerolog.Logger) *Client {
	limit := rate.Limit(cfg.RequestsPerSecond)
	if cfg.RequestsPerSecond <= 0 {
		limit = rate.Inf
	}

	return &Client{
		httpClient: backend.NewHTTPClient(time.Duration(cfg.Timeout) * time.Second),
		baseURL:    cfg.TVMazeURL,
		limiter:    rate.NewLimiter(limit, max(cfg.Burst, 1)),
		retries:    uint(max(cfg.Retries, 1)),
		logger:     logger.With().Str("component", backendName).Logger(),
	}
}

// Name returns the source name.
func (c *Client) Name() string {
	return backendName
}

// LookupShow finds a show by its IMDb id.
func (c *Client) LookupShow(ctx context.Context, imdbID string) (*Show, error) {
	var show *Show
	reqURL := fmt.Sprintf("%s/lookup/shows?imdb=%s", c.baseURL, url.QueryEscape(imdbID))
	err := c.get(ctx, reqURL, &show)
	if backend.StatusCode(err) == http.StatusNotFound {
		return nil, ErrShowNotFound
	}
	if err != nil {
		return nil, err
	}
	if show == nil {
		return nil, ErrShowNotFound
	}
	return show, nil
}

// GetEpisodes lists every episode of a show.
func (c *Client) GetEpisodes(ctx context.Context, showID int) ([]Episode, error) {
	var episodes []Episode
	reqURL := fmt.Sprintf("%s/shows/%d/episodes", c.baseURL, showID)
	if err := c.get(ctx, reqURL, &episodes); err != nil {
		return nil, err
	}
	return episodes, nil
}

// Lookup returns the show ids and per-season episode counts for a series.
func (c *Client) Lookup(ctx context.Context, seriesID string) (*metadata.SeriesData, error) {
	show, err := c.LookupShow(ctx, seriesID)
	if err != nil {
		return nil, err
	}

	data := &metadata.SeriesData{
		SeriesID: seriesID,
		TVMazeID: show.ID,
	}
	if show.Externals.TVRage != nil {
		data.TVRageID = *show.Externals.TVRage
	}
	if show.Externals.TheTVDB != nil {
		data.TVDBID = *show.Externals.TheTVDB
	}

	episodes, err := c.GetEpisodes(ctx, show.ID)
	if err != nil {
		return nil, err
	}
	for _, ep := range episodes {
		if ep.Number == nil {
			continue
		}
		data.SetEpisode(ep.Season, *ep.Number)
	}

	c.logger.Debug().
		Str("seriesId", seriesID).
		Int("tvmazeId", show.ID).
		Int("seasons", len(data.EpisodesPerSeason)).
		Msg("Fetched TVMaze series data")
	return data, nil
}

func (c *Client) get(ctx context.Context, reqURL string, result any) error {
	return backend.RetryTransport(ctx, c.retries, 500*time.Millisecond, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		return backend.GetJSON(ctx, c.httpClient, backendName, reqURL, nil, result)
	})
}
