// Package torbox implements the provider interface on top of TorBox's usenet API.
package torbox

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/byoiap/byoiap/internal/backend"
	"github.com/byoiap/byoiap/internal/provider"
)

const (
	// ID identifies the TorBox provider in user configs.
	ID = "torbox"
	// DefaultBaseURL is the public TorBox API root.
	DefaultBaseURL = "https://api.torbox.app"

	libraryPageSize = 1000
	maxNZBSize      = 64 << 20
	defaultNZBType  = "application/x-nzb"
)

// Client talks to the TorBox API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

var _ provider.Provider = (*Client)(nil)

// NewClient creates a new TorBox client. An empty baseURL selects DefaultBaseURL.
func NewClient(httpClient *http.Client, baseURL string, logger zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = backend.NewHTTPClient(0)
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger.With().Str("component", ID).Logger(),
	}
}

// ID returns the provider identifier.
func (c *Client) ID() string {
	return ID
}

// submissionName is the deterministic name a download is submitted under. It
// lets later requests find an existing submission for the same item.
func submissionName(title, guid string) string {
	sum := md5.Sum([]byte(guid))
	return title + " [" + base64.RawURLEncoding.EncodeToString(sum[:]) + "]"
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := c.baseURL + "/v1/api/usenet/" + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (c *Client) authHeader(cfg provider.Config) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+cfg.APIKey)
	return h
}

// getJSON performs an authenticated GET against the usenet API.
func (c *Client) getJSON(ctx context.Context, cfg provider.Config, path string, query url.Values, result any) error {
	c.logger.Debug().Str("path", path).Msg("Calling TorBox")
	return backend.GetJSON(ctx, c.httpClient, ID, c.endpoint(path, query), c.authHeader(cfg), result)
}

// createDownload submits src. With wait unset the async endpoint is used and
// the response is not inspected.
func (c *Client) createDownload(ctx context.Context, cfg provider.Config, src provider.DownloadSource, wait bool) (*createResponse, error) {
	body, contentType, err := c.buildForm(ctx, cfg, src)
	if err != nil {
		return nil, err
	}

	path := "createusenetdownload"
	if !wait {
		path = "asynccreateusenetdownload"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path, nil), body)
	if err != nil {
		return nil, backend.NewValidationError("invalid create request: " + err.Error())
	}
	req.Header = c.authHeader(cfg)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", backend.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, backend.NewTransportError(ID, err)
	}
	defer resp.Body.Close()

	if !wait {
		_, _ = io.Copy(io.Discard, resp.Body)
		if resp.StatusCode >= 300 {
			return nil, backend.NewStatusError(ID, resp)
		}
		return nil, nil
	}

	// Errors such as ACTIVE_LIMIT come with a non-2xx status and a JSON body.
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, backend.NewTransportError(ID, err)
	}
	var created createResponse
	if err := json.Unmarshal(raw, &created); err != nil {
		if resp.StatusCode >= 300 {
			return nil, backend.NewStatusError(ID, resp)
		}
		return nil, backend.NewProtocolError(ID, "failed to decode create response", err)
	}

	c.logger.Debug().
		Int("status", resp.StatusCode).
		Bool("success", created.Success).
		Str("detail", created.Detail).
		Msg("Created download")
	return &created, nil
}

// buildForm encodes the submission form with either a link or the NZB itself.
func (c *Client) buildForm(ctx context.Context, cfg provider.Config, src provider.DownloadSource) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	name := submissionName(src.Title, src.GUID)
	if err := w.WriteField("name", name); err != nil {
		return nil, "", err
	}
	if src.Password != "" {
		if err := w.WriteField("password", src.Password); err != nil {
			return nil, "", err
		}
	}

	if cfg.ProxyFile {
		nzb, nzbType, err := c.fetchNZB(ctx, src.URL)
		if err != nil {
			return nil, "", err
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", mime.FormatMediaType("form-data", map[string]string{
			"name":     "file",
			"filename": name + ".nzb",
		}))
		h.Set("Content-Type", nzbType)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(nzb); err != nil {
			return nil, "", err
		}
	} else if err := w.WriteField("link", src.URL); err != nil {
		return nil, "", err
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// fetchNZB downloads the NZB behind rawURL. The returned content type has its
// parameters stripped since TorBox rejects values such as
// "application/x-nzb; charset=utf-8".
func (c *Client) fetchNZB(ctx context.Context, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", backend.NewValidationError("invalid nzb url: " + err.Error())
	}
	resp, err := backend.Do(c.httpClient, "nzb", req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxNZBSize))
	if err != nil {
		return nil, "", backend.NewTransportError("nzb", err)
	}

	contentType, _, _ := strings.Cut(resp.Header.Get("Content-Type"), ";")
	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		contentType = defaultNZBType
	}
	return data, contentType, nil
}

// Precache submits src through the async endpoint.
func (c *Client) Precache(ctx context.Context, cfg provider.Config, src provider.DownloadSource) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	_, err := c.createDownload(ctx, cfg, src, false)
	if err != nil {
		return err
	}
	c.logger.Info().Str("title", src.Title).Msg("Precache submitted")
	return nil
}

// requestDownload asks for a signed URL of one file of a submission.
func (c *Client) requestDownload(ctx context.Context, cfg provider.Config, submissionID, fileID int64) (string, error) {
	q := url.Values{}
	q.Set("token", cfg.APIKey)
	q.Set("usenet_id", strconv.FormatInt(submissionID, 10))
	q.Set("file_id", strconv.FormatInt(fileID, 10))

	var resp requestDLResponse
	if err := backend.GetJSON(ctx, c.httpClient, ID, c.endpoint("requestdl", q), nil, &resp); err != nil {
		return "", err
	}
	if resp.Data == "" {
		return "", backend.NewProtocolError(ID, "requestdl returned no url", nil)
	}
	return resp.Data, nil
}

// preferredFile picks the file to play: the file called name when given,
// otherwise the first file with an OpenSubtitles hash, otherwise the largest.
func preferredFile(files []usenetFile, name string) *usenetFile {
	if name != "" {
		for i := range files {
			if files[i].ShortName == name {
				return &files[i]
			}
		}
		return nil
	}

	for i := range files {
		if files[i].OpenSubtitlesHash != nil {
			return &files[i]
		}
	}

	var largest *usenetFile
	for i := range files {
		if largest == nil || files[i].Size > largest.Size {
			largest = &files[i]
		}
	}
	return largest
}
