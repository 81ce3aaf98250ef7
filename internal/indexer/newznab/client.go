// Package newznab implements the indexer interface for newznab-compatible
// search APIs such as NZBHydra2 or Prowlarr.
package newznab

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/byoiap/byoiap/internal/backend"
	"github.com/byoiap/byoiap/internal/indexer"
	"github.com/byoiap/byoiap/internal/mediaid"
	"github.com/byoiap/byoiap/internal/metadata"
	"github.com/byoiap/byoiap/internal/xmltree"
)

// ID identifies the newznab indexer in user configs.
const ID = "newznab"

// DefaultLimit is the page size used when the indexer does not advertise one.
const DefaultLimit = 50

const maxConcurrentUnwraps = 8

// SeriesLookup resolves a series id to its ids on other services.
type SeriesLookup interface {
	Get(ctx context.Context, seriesID string) (*metadata.SeriesData, error)
}

// Client queries newznab APIs.
type Client struct {
	httpClient *http.Client
	noRedirect *http.Client
	series     SeriesLookup
	logger     zerolog.Logger
}

// NewClient creates a new newznab client. series may be nil, in which case
// only imdb ids are used for searching.
func NewClient(httpClient *http.Client, series SeriesLookup, logger zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = backend.NewHTTPClient(0)
	}
	noRedirect := *httpClient
	noRedirect.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	return &Client{
		httpClient: httpClient,
		noRedirect: &noRedirect,
		series:     series,
		logger:     logger.With().Str("component", ID).Logger(),
	}
}

// ID returns the indexer identifier.
func (c *Client) ID() string {
	return ID
}

// Caps fetches the capabilities document, stopping as soon as the page limit
// and both search types were seen.
func (c *Client) Caps(ctx context.Context, cfg indexer.Config) (*Caps, error) {
	params := url.Values{}
	params.Set("t", "caps")

	resp, err := c.get(ctx, cfg, params)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	state := &capsState{}
	p := xmltree.NewProcessor(capsTree, state)
	state.done = p.Finish
	if err := p.Run(ctx, resp.Body); err != nil {
		return nil, classifyParseError(err)
	}

	c.logger.Debug().
		Int("limit", state.caps.Limit).
		Strs("movie", state.caps.Movie).
		Strs("tv", state.caps.TV).
		Bool("early", p.Finished()).
		Msg("Fetched caps")
	return &state.caps, nil
}

type capsResult struct {
	caps *Caps
	err  error
}

// Query searches the indexer for every item matching id.
func (c *Client) Query(ctx context.Context, cfg indexer.Config, id mediaid.MediaID) ([]*indexer.Item, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()

	capsCh := make(chan capsResult, 1)
	go func() {
		caps, err := c.Caps(ctx, cfg)
		capsCh <- capsResult{caps: caps, err: err}
	}()

	params := url.Values{}
	params.Set("attrs", strings.Join(coreAttrs, ","))

	var (
		seriesCh        <-chan *metadata.SeriesData
		season, episode *int
	)
	switch id.Kind {
	case mediaid.KindEpisode:
		seriesCh = c.lookupSeries(ctx, id.ImdbID)
		params.Set("t", "tvsearch")
		params.Set("season", strconv.Itoa(id.Season))
		params.Set("ep", strconv.Itoa(id.Episode))
		s, e := id.Season, id.Episode
		season, episode = &s, &e
	case mediaid.KindMovie:
		params.Set("t", "movie")
	default:
		return nil, backend.NewValidationError("unsupported media kind " + id.Kind.String())
	}

	res := <-capsCh
	if res.err != nil {
		return nil, res.err
	}
	caps := res.caps

	ids := []searchID{{param: "imdbid", value: id.ImdbID}}
	supported := caps.Movie
	if id.Kind == mediaid.KindEpisode {
		supported = caps.TV
		// Secondary show ids are only worth the metadata round trip when
		// the indexer cannot search by imdb id.
		if !supports(caps.TV, "imdbid") && seriesCh != nil {
			if data := <-seriesCh; data != nil {
				ids = append(ids,
					searchID{param: "rid", value: optionalID(data.TVRageID)},
					searchID{param: "tvdbid", value: optionalID(data.TVDBID)},
					searchID{param: "tvmazeid", value: optionalID(data.TVMazeID)},
				)
			}
		}
	}

	if insertSearchIDs(params, supported, ids) == 0 {
		c.logger.Debug().Str("mediaId", id.String()).Msg("Indexer supports none of the available ids, skipping query")
		return []*indexer.Item{}, nil
	}

	limit := caps.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	params.Set("limit", strconv.Itoa(limit))

	items, err := c.fetchAll(ctx, cfg, params, limit, season, episode)
	if err != nil {
		return nil, err
	}

	c.logger.Info().
		Str("mediaId", id.String()).
		Int("items", len(items)).
		Dur("elapsed", time.Since(start)).
		Msg("Indexer query complete")
	return items, nil
}

func (c *Client) lookupSeries(ctx context.Context, seriesID string) <-chan *metadata.SeriesData {
	if c.series == nil {
		return nil
	}
	ch := make(chan *metadata.SeriesData, 1)
	go func() {
		data, err := c.series.Get(ctx, seriesID)
		if err != nil {
			c.logger.Warn().Err(err).Str("seriesId", seriesID).Msg("Series lookup failed")
		}
		ch <- data
	}()
	return ch
}

type searchID struct {
	param string
	value string
}

func optionalID(id int) string {
	if id == 0 {
		return ""
	}
	return strconv.Itoa(id)
}

// insertSearchIDs adds every known id the indexer supports and returns how
// many were added.
func insertSearchIDs(params url.Values, supported []string, ids []searchID) int {
	inserted := 0
	for _, id := range ids {
		if id.value == "" || !supports(supported, id.param) {
			continue
		}
		params.Add(id.param, id.value)
		inserted++
	}
	return inserted
}

// fetchAll reads page 0 and, once it reports the total, fetches the remaining
// pages concurrently. Page 0 items come first, later pages follow in
// completion order.
func (c *Client) fetchAll(ctx context.Context, cfg indexer.Config, params url.Values, limit int, season, episode *int) ([]*indexer.Item, error) {
	g, gctx := errgroup.WithContext(ctx)

	var (
		mu     sync.Mutex
		rest   []*indexer.Item
		unwrap []*indexer.Item
	)

	first := &feedState{season: season, episode: episode}
	scheduled := false
	first.onTotal = func(total int) {
		if scheduled {
			return
		}
		scheduled = true
		for offset := limit; offset < total; offset += limit {
			g.Go(func() error {
				page := &feedState{season: season, episode: episode}
				if err := c.fetchPage(gctx, cfg, params, offset, page); err != nil {
					return err
				}
				mu.Lock()
				rest = append(rest, page.items...)
				unwrap = append(unwrap, page.unwrap...)
				mu.Unlock()
				return nil
			})
		}
	}

	firstErr := c.fetchPage(gctx, cfg, params, 0, first)
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if firstErr != nil {
		return nil, firstErr
	}

	items := append(first.items, rest...)
	c.unwrapRedirects(ctx, append(first.unwrap, unwrap...))
	return items, nil
}

func (c *Client) fetchPage(ctx context.Context, cfg indexer.Config, params url.Values, offset int, state *feedState) error {
	q := make(url.Values, len(params)+1)
	for k, v := range params {
		q[k] = append([]string(nil), v...)
	}
	q.Set("offset", strconv.Itoa(offset))

	resp, err := c.get(ctx, cfg, q)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := xmltree.NewProcessor(feedTree, state).Run(ctx, resp.Body); err != nil {
		return classifyParseError(err)
	}

	c.logger.Debug().
		Int("offset", offset).
		Int("items", len(state.items)).
		Int("dropped", state.dropped).
		Msg("Fetched result page")
	return nil
}

// get issues an API call with the credentials and output format of cfg.
func (c *Client) get(ctx context.Context, cfg indexer.Config, params url.Values) (*http.Response, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, backend.NewValidationError("invalid indexer url: " + err.Error())
	}
	q := u.Query()
	q.Set("apikey", cfg.APIKey)
	q.Set("o", "xml")
	for k, v := range params {
		q[k] = v
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, backend.NewValidationError("invalid indexer request: " + err.Error())
	}
	return backend.Do(c.httpClient, ID, req)
}

// unwrapRedirects replaces the URL of every item with the target of the
// redirect it points to. TorBox keys its cache on the submitted link, so the
// redirect wrapper added by aggregators would defeat cache hits.
func (c *Client) unwrapRedirects(ctx context.Context, items []*indexer.Item) {
	if len(items) == 0 {
		return
	}

	var g errgroup.Group
	g.SetLimit(maxConcurrentUnwraps)
	for _, item := range items {
		g.Go(func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodHead, item.URL, nil)
			if err != nil {
				return nil
			}
			req.Header.Set("User-Agent", backend.UserAgent)

			resp, err := c.noRedirect.Do(req)
			if err != nil {
				c.logger.Warn().Err(err).Str("title", item.Title).Msg("Failed to unwrap redirect")
				return nil
			}
			resp.Body.Close()

			if loc, err := resp.Location(); err == nil {
				item.URL = loc.String()
			}
			return nil
		})
	}
	_ = g.Wait()
}

func classifyParseError(err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, xmltree.ErrMalformed):
		return backend.NewProtocolError(ID, "malformed xml", err)
	default:
		return backend.NewTransportError(ID, err)
	}
}
