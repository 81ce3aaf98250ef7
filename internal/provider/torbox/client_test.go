package torbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byoiap/byoiap/internal/backend"
	"github.com/byoiap/byoiap/internal/indexer"
	"github.com/byoiap/byoiap/internal/provider"
)

const testAPIKey = "tb-key"

func strPtr(s string) *string { return &s }

// fakeTorbox serves the subset of the usenet API the client uses.
type fakeTorbox struct {
	t *testing.T

	mu        sync.Mutex
	downloads []usenetDownload
	cached    map[string][]usenetFile
	createErr string
	nextID    int64

	creates      atomic.Int32
	asyncCreates atomic.Int32
	listCalls    atomic.Int32
	cachedCalls  atomic.Int32
	lastForm     map[string]string
	lastFileType string
}

func (f *fakeTorbox) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/api/usenet/requestdl" && r.Header.Get("Authorization") != "Bearer "+testAPIKey {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	q := r.URL.Query()

	switch r.URL.Path {
	case "/v1/api/usenet/mylist":
		f.listCalls.Add(1)
		f.mu.Lock()
		defer f.mu.Unlock()
		if id := q.Get("id"); id != "" {
			n, _ := strconv.ParseInt(id, 10, 64)
			for _, d := range f.downloads {
				if d.ID == n {
					writeJSON(w, map[string]any{"success": true, "data": d})
					return
				}
			}
			writeJSON(w, map[string]any{"success": true, "data": nil})
			return
		}
		offset, _ := strconv.Atoi(q.Get("offset"))
		limit, _ := strconv.Atoi(q.Get("limit"))
		end := min(offset+limit, len(f.downloads))
		page := []usenetDownload{}
		if offset < end {
			page = f.downloads[offset:end]
		}
		writeJSON(w, map[string]any{"success": true, "data": page})

	case "/v1/api/usenet/checkcached":
		f.cachedCalls.Add(1)
		hashes := strings.Split(q.Get("hash"), ",")
		assert.LessOrEqual(f.t, len(hashes), hashesPerRequest)
		assert.Equal(f.t, "list", q.Get("format"))
		var entries []cachedEntry
		for _, h := range hashes {
			if files, ok := f.cached[h]; ok {
				entries = append(entries, cachedEntry{Hash: h, Files: files})
			}
		}
		if len(entries) == 0 {
			writeJSON(w, map[string]any{"success": true, "data": map[string]any{}})
			return
		}
		writeJSON(w, map[string]any{"success": true, "data": entries})

	case "/v1/api/usenet/createusenetdownload", "/v1/api/usenet/asynccreateusenetdownload":
		if !assert.NoError(f.t, r.ParseMultipartForm(1<<20)) {
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		f.lastForm = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			f.lastForm[k] = v[0]
		}
		if fh := r.MultipartForm.File["file"]; len(fh) > 0 {
			f.lastFileType = fh[0].Header.Get("Content-Type")
			if file, err := fh[0].Open(); assert.NoError(f.t, err) {
				data, _ := io.ReadAll(file)
				f.lastForm["file"] = string(data)
			}
		}

		if strings.HasPrefix(r.URL.Path, "/v1/api/usenet/async") {
			f.asyncCreates.Add(1)
			writeJSON(w, map[string]any{"success": true, "error": nil, "data": map[string]any{}})
			return
		}
		f.creates.Add(1)
		if f.createErr != "" {
			w.WriteHeader(http.StatusForbidden)
			writeJSON(w, map[string]any{"success": false, "error": f.createErr, "detail": "nope", "data": map[string]any{}})
			return
		}
		f.nextID++
		f.downloads = append(f.downloads, usenetDownload{ID: f.nextID, Name: f.lastForm["name"], Active: true})
		writeJSON(w, map[string]any{"success": true, "error": nil, "data": map[string]any{"usenetdownload_id": strconv.FormatInt(f.nextID, 10)}})

	case "/v1/api/usenet/requestdl":
		assert.Equal(f.t, testAPIKey, q.Get("token"))
		writeJSON(w, map[string]any{"success": true, "data": fmt.Sprintf("https://cdn.example/%s/%s", q.Get("usenet_id"), q.Get("file_id"))})

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newFakeClient(t *testing.T, f *fakeTorbox) (*Client, *httptest.Server) {
	t.Helper()
	f.t = t
	server := httptest.NewServer(f)
	t.Cleanup(server.Close)
	return NewClient(server.Client(), server.URL, zerolog.Nop()), server
}

var testConfig = provider.Config{ID: ID, APIKey: testAPIKey}

func TestSubmissionName(t *testing.T) {
	// md5("guid-1") in unpadded base64url.
	name := submissionName("Movie.2024.1080p", "guid-1")
	assert.True(t, strings.HasPrefix(name, "Movie.2024.1080p ["))
	assert.True(t, strings.HasSuffix(name, "]"))
	assert.Len(t, strings.TrimSuffix(strings.TrimPrefix(name, "Movie.2024.1080p ["), "]"), 22)
	assert.Equal(t, name, submissionName("Movie.2024.1080p", "guid-1"))
	assert.NotEqual(t, name, submissionName("Movie.2024.1080p", "guid-2"))
}

func TestPreferredFile(t *testing.T) {
	files := []usenetFile{
		{ID: 0, Size: 10, ShortName: "sample.mkv"},
		{ID: 1, Size: 500, ShortName: "movie.mkv"},
		{ID: 2, Size: 100, ShortName: "extras.mkv", OpenSubtitlesHash: strPtr("abc")},
	}

	assert.Equal(t, int64(0), preferredFile(files, "sample.mkv").ID)
	assert.Nil(t, preferredFile(files, "missing.mkv"))
	assert.Equal(t, int64(2), preferredFile(files, "").ID)
	assert.Equal(t, int64(1), preferredFile(files[:2], "").ID)
	assert.Nil(t, preferredFile(nil, ""))
}

func newItem(n int) *indexer.Item {
	return &indexer.Item{
		GUID:  fmt.Sprintf("guid-%d", n),
		URL:   fmt.Sprintf("https://nzb.example/%d", n),
		Title: fmt.Sprintf("Movie.2024.1080p-%d", n),
	}
}

func TestCacheChecker(t *testing.T) {
	items := make([]*indexer.Item, 120)
	for i := range items {
		items[i] = newItem(i)
	}

	f := &fakeTorbox{cached: map[string][]usenetFile{
		urlHash(items[9].URL):  {{ID: 3, Size: 4000, ShortName: "movie9.mkv", Mimetype: "video/x-matroska", OpenSubtitlesHash: strPtr("h9")}},
		urlHash(items[70].URL): {{ID: 0, Size: 2000, ShortName: "movie70.mp4", Mimetype: "video/mp4"}},
		// Also finished in the library; the library wins.
		urlHash(items[1].URL): {{ID: 5, Size: 1, ShortName: "x.mkv"}},
	}}
	f.downloads = []usenetDownload{
		{ID: 11, Name: submissionName(items[1].Title, items[1].GUID), DownloadPresent: true, DownloadFinished: true,
			Files: []usenetFile{{ID: 0, Size: 900, ShortName: "movie1.mkv", OpenSubtitlesHash: strPtr("h1")}}},
		{ID: 12, Name: submissionName(items[2].Title, items[2].GUID), Active: true},
		{ID: 13, Name: submissionName(items[3].Title, items[3].GUID), Active: false},
		{ID: 14, Name: "unrelated"},
	}
	client, _ := newFakeClient(t, f)

	checker := client.BuildCacheChecker(context.Background(), testConfig)
	available, err := checker(context.Background(), items)
	require.NoError(t, err)

	assert.Equal(t, []*indexer.Item{items[1], items[9], items[70]}, available)
	assert.Equal(t, int32(3), f.cachedCalls.Load(), "120 hashes need three requests")

	assert.Equal(t, indexer.StatusReady, items[1].Status)
	assert.Equal(t, "11:0", items[1].PendingPayload)
	assert.Equal(t, "movie1.mkv", items[1].FileName)
	assert.Equal(t, "h1", items[1].OpenSubtitlesHash)

	assert.Equal(t, indexer.StatusDownloading, items[2].Status)
	assert.Equal(t, "12", items[2].PendingPayload)
	assert.Equal(t, indexer.StatusFailed, items[3].Status)
	assert.Empty(t, items[3].PendingPayload)

	assert.Equal(t, indexer.StatusCached, items[9].Status)
	assert.Equal(t, "movie9.mkv", items[9].FileName)
	assert.Equal(t, "video/x-matroska", items[9].Mimetype)
	assert.Equal(t, int64(4000), items[9].Size)
	assert.Empty(t, items[9].PendingPayload)

	assert.Equal(t, indexer.StatusCached, items[70].Status)
	assert.Equal(t, indexer.StatusNone, items[0].Status)
}

func TestCacheChecker_Empty(t *testing.T) {
	f := &fakeTorbox{}
	client, _ := newFakeClient(t, f)

	available, err := client.BuildCacheChecker(context.Background(), testConfig)(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, available)
	assert.Equal(t, int32(0), f.cachedCalls.Load())
}

func TestCacheChecker_LibraryPagination(t *testing.T) {
	f := &fakeTorbox{}
	for i := range libraryPageSize + 5 {
		f.downloads = append(f.downloads, usenetDownload{ID: int64(i + 1), Name: fmt.Sprintf("other-%d", i), Active: true})
	}
	target := newItem(1)
	f.downloads = append(f.downloads, usenetDownload{ID: 99999, Name: submissionName(target.Title, target.GUID), Active: true})
	client, _ := newFakeClient(t, f)

	_, err := client.BuildCacheChecker(context.Background(), testConfig)(context.Background(), []*indexer.Item{target})
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.listCalls.Load())
	assert.Equal(t, indexer.StatusDownloading, target.Status)
	assert.Equal(t, "99999", target.PendingPayload)
}

func TestCacheChecker_Unauthorized(t *testing.T) {
	client, _ := newFakeClient(t, &fakeTorbox{})

	_, err := client.BuildCacheChecker(context.Background(), provider.Config{ID: ID, APIKey: "wrong"})(context.Background(), []*indexer.Item{newItem(1)})
	require.Error(t, err)
	assert.True(t, backend.IsTransport(err))
}

func source(n int) provider.DownloadSource {
	return provider.SourceFromItem(newItem(n), "tt1234567")
}

func TestResolve_CreatesAndPends(t *testing.T) {
	f := &fakeTorbox{}
	client, _ := newFakeClient(t, f)

	src := source(1)
	src.Password = "secret"
	res, err := client.Resolve(context.Background(), testConfig, src)
	require.NoError(t, err)
	assert.Equal(t, provider.Pending, res.Status)
	assert.Equal(t, "1", res.Payload)
	assert.Equal(t, int32(1), f.creates.Load())
	assert.Equal(t, submissionName(src.Title, src.GUID), f.lastForm["name"])
	assert.Equal(t, "secret", f.lastForm["password"])
	assert.Equal(t, src.URL, f.lastForm["link"])

	// Resolving again without the payload finds the existing submission.
	res, err = client.Resolve(context.Background(), testConfig, src)
	require.NoError(t, err)
	assert.Equal(t, provider.Pending, res.Status)
	assert.Equal(t, int32(1), f.creates.Load())
}

func TestResolve_Finished(t *testing.T) {
	f := &fakeTorbox{downloads: []usenetDownload{{
		ID: 7, Name: "x", DownloadPresent: true, DownloadFinished: true,
		Files: []usenetFile{
			{ID: 0, Size: 100, ShortName: "sample.mkv"},
			{ID: 1, Size: 900, ShortName: "movie.mkv", OpenSubtitlesHash: strPtr("h")},
		},
	}}}
	client, _ := newFakeClient(t, f)

	src := source(1)
	src.PendingPayload = "7"
	res, err := client.Resolve(context.Background(), testConfig, src)
	require.NoError(t, err)
	assert.Equal(t, provider.Succeeded, res.Status)
	assert.Equal(t, "https://cdn.example/7/1", res.URL)

	src.FileName = "sample.mkv"
	res, err = client.Resolve(context.Background(), testConfig, src)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/7/0", res.URL)

	src.FileName = "gone.mkv"
	res, err = client.Resolve(context.Background(), testConfig, src)
	require.NoError(t, err)
	assert.Equal(t, provider.UnknownFailure, res.Status)
}

func TestResolve_PayloadWithFile(t *testing.T) {
	f := &fakeTorbox{}
	client, _ := newFakeClient(t, f)

	src := source(1)
	src.PendingPayload = "42:0"
	res, err := client.Resolve(context.Background(), testConfig, src)
	require.NoError(t, err)
	assert.Equal(t, provider.Succeeded, res.Status)
	assert.Equal(t, "https://cdn.example/42/0", res.URL)
	assert.Equal(t, int32(0), f.listCalls.Load())
}

func TestResolve_Inactive(t *testing.T) {
	f := &fakeTorbox{downloads: []usenetDownload{{ID: 8, Name: "x", Active: false}}}
	client, _ := newFakeClient(t, f)

	src := source(1)
	src.PendingPayload = "8"
	res, err := client.Resolve(context.Background(), testConfig, src)
	require.NoError(t, err)
	assert.Equal(t, provider.Failed, res.Status)
}

func TestResolve_CreateErrors(t *testing.T) {
	tests := []struct {
		createErr string
		want      provider.ResolveStatus
	}{
		{"ACTIVE_LIMIT", provider.LimitReached},
		{"DOWNLOAD_SERVER_ERROR", provider.UnknownFailure},
	}

	for _, tt := range tests {
		t.Run(tt.createErr, func(t *testing.T) {
			client, _ := newFakeClient(t, &fakeTorbox{createErr: tt.createErr})
			res, err := client.Resolve(context.Background(), testConfig, source(1))
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Status)
		})
	}
}

func TestPrecache(t *testing.T) {
	f := &fakeTorbox{}
	client, _ := newFakeClient(t, f)

	require.NoError(t, client.Precache(context.Background(), testConfig, source(3)))
	assert.Equal(t, int32(1), f.asyncCreates.Load())
	assert.Equal(t, int32(0), f.creates.Load())
	assert.Equal(t, "https://nzb.example/3", f.lastForm["link"])
}

func TestPrecache_ProxyFile(t *testing.T) {
	nzbServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-nzb; charset=utf-8")
		_, _ = w.Write([]byte("<nzb/>"))
	}))
	t.Cleanup(nzbServer.Close)

	f := &fakeTorbox{}
	client, _ := newFakeClient(t, f)

	src := source(3)
	src.URL = nzbServer.URL + "/get"
	cfg := testConfig
	cfg.ProxyFile = true
	require.NoError(t, client.Precache(context.Background(), cfg, src))

	assert.Equal(t, "<nzb/>", f.lastForm["file"])
	assert.Equal(t, "application/x-nzb", f.lastFileType)
	_, hasLink := f.lastForm["link"]
	assert.False(t, hasLink)
}

func TestFlexID(t *testing.T) {
	var data createData
	require.NoError(t, json.Unmarshal([]byte(`{"usenetdownload_id": 12}`), &data))
	assert.Equal(t, flexID(12), data.UsenetDownloadID)
	require.NoError(t, json.Unmarshal([]byte(`{"usenetdownload_id": "34"}`), &data))
	assert.Equal(t, flexID(34), data.UsenetDownloadID)
	assert.Error(t, json.Unmarshal([]byte(`{"usenetdownload_id": "x"}`), &data))
}
