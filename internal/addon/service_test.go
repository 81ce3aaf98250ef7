package addon

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byoiap/byoiap/internal/backend"
	"github.com/byoiap/byoiap/internal/indexer"
	"github.com/byoiap/byoiap/internal/indexer/newznab"
	"github.com/byoiap/byoiap/internal/mediaid"
	"github.com/byoiap/byoiap/internal/metadata"
	"github.com/byoiap/byoiap/internal/precache"
	"github.com/byoiap/byoiap/internal/provider"
	"github.com/byoiap/byoiap/internal/provider/torbox"
	"github.com/byoiap/byoiap/internal/resolve"
)

const capsXML = `<?xml version="1.0" encoding="UTF-8"?>
<caps>
  <limits max="50" default="50"/>
  <searching>
    <tv-search available="yes" supportedParams="q,season,ep,imdbid"/>
    <movie-search available="yes" supportedParams="q,imdbid"/>
  </searching>
</caps>`

// newznabServer serves searches of total items in pages of 50. Item links
// point back at the server so redirect probes stay local.
func newznabServer(t *testing.T, total int, queries *atomic.Int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			return
		}
		q := r.URL.Query()
		switch q.Get("t") {
		case "caps":
			_, _ = w.Write([]byte(capsXML))
		case "movie", "tvsearch":
			queries.Add(1)
			offset, _ := strconv.Atoi(q.Get("offset"))
			end := min(offset+50, total)

			var b strings.Builder
			b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><rss version="2.0" xmlns:newznab="http://www.newznab.com/DTD/2010/feeds/attributes/"><channel>`)
			fmt.Fprintf(&b, `<newznab:response offset="%d" total="%d"/>`, offset, total)
			for i := offset; i < end; i++ {
				link := fmt.Sprintf("http://%s/get/%d", r.Host, i)
				fmt.Fprintf(&b, `<item><title>Movie.2024.1080p.WEB-DL-%02d</title><guid>guid-%d</guid><link>%s</link>`, i, i, link)
				fmt.Fprintf(&b, `<pubDate>Sat, 01 Jun 2024 12:00:00 +0000</pubDate><enclosure url="%s" length="1000" type="application/x-nzb"/></item>`, link)
			}
			b.WriteString("</channel></rss>")
			_, _ = w.Write([]byte(b.String()))
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func urlHash(u string) string {
	sum := md5.Sum([]byte(u))
	return hex.EncodeToString(sum[:])
}

// torboxServer reports cachedURL as cached and holds an empty library.
func torboxServer(t *testing.T, cachedURL string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/api/usenet/mylist":
			_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "data": []any{}})
		case "/v1/api/usenet/checkcached":
			var data []map[string]any
			for _, h := range strings.Split(r.URL.Query().Get("hash"), ",") {
				if h == urlHash(cachedURL) {
					data = append(data, map[string]any{
						"hash":  h,
						"files": []map[string]any{{"id": 0, "size": 2000, "mimetype": "video/mp4", "short_name": "movie.mp4"}},
					})
				}
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "data": data})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestService(t *testing.T, indexers *indexer.Registry, providers *provider.Registry) *Service {
	t.Helper()
	orch := resolve.New(resolve.Options{
		FailureURL: "https://videos.example/failed.mp4",
		Sleep:      func(context.Context, time.Duration) {},
	}, zerolog.Nop())
	scheduler := precache.NewScheduler(stubSeries{}, zerolog.Nop())
	return NewService(indexers, providers, orch, scheduler, zerolog.Nop())
}

type stubSeries struct{}

func (stubSeries) Get(_ context.Context, seriesID string) (*metadata.SeriesData, error) {
	d := &metadata.SeriesData{SeriesID: seriesID}
	d.SetEpisode(1, 10)
	return d, nil
}

func TestService_QueryStreams_EndToEnd(t *testing.T) {
	var queries atomic.Int32
	nz := newznabServer(t, 75, &queries)
	tb := torboxServer(t, nz.URL+"/get/9")

	indexers := indexer.NewRegistry(newznab.NewClient(nz.Client(), nil, zerolog.Nop()))
	providers := provider.NewRegistry(torbox.NewClient(tb.Client(), tb.URL, zerolog.Nop()))
	svc := newTestService(t, indexers, providers)

	cfg := testConfig()
	cfg.Indexer.URL = nz.URL + "/api"

	streams, err := svc.QueryStreams(context.Background(), StreamRequest{
		Config: cfg,
		Token:  "tok",
		Origin: "https://addon.example",
		ID:     mediaid.Movie("tt1234567"),
	})
	require.NoError(t, err)
	assert.Equal(t, int32(2), queries.Load())

	// One cached item plus the capped default tier.
	require.Len(t, streams, 21)
	first := streams[0]
	assert.Equal(t, "byoiap\n1080\n[Cached]", first.Name)
	assert.True(t, strings.HasPrefix(first.Title, "Movie.2024.1080p.WEB-DL-09\n"))
	assert.Equal(t, "movie.mp4", first.BehaviorHints.Filename)
	require.NotNil(t, first.BehaviorHints.NotWebReady)
	assert.False(t, *first.BehaviorHints.NotWebReady)

	u, err := url.Parse(first.URL)
	require.NoError(t, err)
	assert.Equal(t, "/tok/resolve", u.Path)
	assert.Equal(t, nz.URL+"/get/9", u.Query().Get("url"))
	assert.Equal(t, "guid-9", u.Query().Get("guid"))
	assert.Empty(t, u.Query().Get("asyncChain"))

	for _, s := range streams[1:] {
		assert.NotContains(t, s.Name, "[")
	}
}

type stubProvider struct {
	result provider.ResolveResult
	calls  atomic.Int32
}

func (p *stubProvider) ID() string { return "torbox" }

func (p *stubProvider) BuildCacheChecker(context.Context, provider.Config) provider.CacheChecker {
	return func(context.Context, []*indexer.Item) ([]*indexer.Item, error) {
		return nil, backend.NewTransportError("torbox", fmt.Errorf("down"))
	}
}

func (p *stubProvider) Precache(context.Context, provider.Config, provider.DownloadSource) error {
	return nil
}

func (p *stubProvider) Resolve(context.Context, provider.Config, provider.DownloadSource) (provider.ResolveResult, error) {
	p.calls.Add(1)
	return p.result, nil
}

func TestService_QueryStreams_CacheCheckFailureKeepsListing(t *testing.T) {
	var queries atomic.Int32
	nz := newznabServer(t, 3, &queries)
	indexers := indexer.NewRegistry(newznab.NewClient(nz.Client(), nil, zerolog.Nop()))
	svc := newTestService(t, indexers, provider.NewRegistry(&stubProvider{}))

	cfg := testConfig()
	cfg.Indexer.URL = nz.URL + "/api"
	streams, err := svc.QueryStreams(context.Background(), StreamRequest{
		Config: cfg, Token: "tok", Origin: "https://addon.example", ID: mediaid.Episode("tt1234567", 1, 2),
	})
	require.NoError(t, err)
	require.Len(t, streams, 3)

	u, err := url.Parse(streams[0].URL)
	require.NoError(t, err)
	chain, err := url.Parse(u.Query().Get("asyncChain"))
	require.NoError(t, err)
	assert.Equal(t, "/tok/cachenext/tt1234567:1:2", chain.Path)
}

func TestService_UnknownBackends(t *testing.T) {
	svc := newTestService(t, indexer.NewRegistry(), provider.NewRegistry())
	cfg := testConfig()

	_, err := svc.QueryStreams(context.Background(), StreamRequest{Config: cfg, ID: mediaid.Movie("tt1")})
	assert.True(t, backend.IsValidation(err))

	err = svc.PrecacheNext(context.Background(), cfg, mediaid.Episode("tt1", 1, 1), "x")
	assert.True(t, backend.IsValidation(err))

	u, _ := url.Parse("https://addon.example/tok/resolve?kind=usenet")
	_, err = svc.Resolve(context.Background(), cfg, u)
	assert.True(t, backend.IsValidation(err))
}

func TestService_Resolve(t *testing.T) {
	prov := &stubProvider{result: provider.ResolveResult{Status: provider.Succeeded, URL: "https://cdn.example/file.mkv"}}
	svc := newTestService(t, indexer.NewRegistry(), provider.NewRegistry(prov))
	cfg := testConfig()

	q := url.Values{}
	provider.DownloadSource{
		URL: "https://nzb.example/get/1", Title: "Movie.2024.1080p", GUID: "guid-1", MediaID: "tt1",
	}.Encode(q)
	u, err := url.Parse("https://addon.example/tok/resolve?" + q.Encode())
	require.NoError(t, err)

	out, err := svc.Resolve(context.Background(), cfg, u)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/file.mkv", out.RedirectURL)
	assert.Equal(t, resolve.MaxAgeSuccess, out.MaxAge)

	bad, _ := url.Parse("https://addon.example/tok/resolve?kind=usenet&mediaId=tt1")
	_, err = svc.Resolve(context.Background(), cfg, bad)
	assert.True(t, backend.IsValidation(err))
	assert.Equal(t, int32(1), prov.calls.Load())
}
