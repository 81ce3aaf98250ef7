// Package provider defines the download backend abstraction: cache checks,
// download submission and resolution of playable URLs.
package provider

import (
	"context"
	"net/url"
	"sort"

	"github.com/byoiap/byoiap/internal/backend"
	"github.com/byoiap/byoiap/internal/indexer"
)

// Config holds the per-user provider settings.
type Config struct {
	ID     string `json:"id" mapstructure:"id"`
	APIKey string `json:"apiKey" mapstructure:"apiKey"`
	// ProxyFile makes the server download the NZB itself and upload it to
	// the provider, so indexer URLs (and their API keys) never leave it.
	ProxyFile bool `json:"proxyFile" mapstructure:"proxyFile"`
}

// Validate checks that the config can be used to issue requests.
func (c Config) Validate() error {
	if c.ID == "" {
		return backend.NewValidationError("provider id is required")
	}
	if c.APIKey == "" {
		return backend.NewValidationError("provider api key is required")
	}
	return nil
}

// CacheChecker marks the items that the provider already holds. It returns
// the items that became cached or ready.
type CacheChecker func(ctx context.Context, items []*indexer.Item) ([]*indexer.Item, error)

// Provider is a download backend.
type Provider interface {
	ID() string

	// BuildCacheChecker may start background requests right away so they
	// overlap with the indexer query. They are bound to ctx.
	BuildCacheChecker(ctx context.Context, cfg Config) CacheChecker

	// Precache submits a download without waiting for the provider to
	// acknowledge it.
	Precache(ctx context.Context, cfg Config, src DownloadSource) error

	// Resolve turns a source into a playable URL. Business outcomes such as
	// a reached download limit are reported through the result status.
	Resolve(ctx context.Context, cfg Config, src DownloadSource) (ResolveResult, error)
}

// Registry holds the providers available to users, keyed by ID.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry creates a registry of the given providers.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.ID()] = p
	}
	return r
}

// Get returns the provider with the given ID.
func (r *Registry) Get(id string) (Provider, bool) {
	p, ok := r.providers[id]
	return p, ok
}

// IDs returns the registered provider IDs in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SourceKind is the only kind of download source supported.
const SourceKind = "usenet"

// DownloadSource is what a provider needs to submit or resolve an item. It
// travels between requests as the query string of a resolve URL.
type DownloadSource struct {
	URL            string
	Password       string
	Title          string
	GUID           string
	FileName       string
	PendingPayload string
	MediaID        string
}

// SourceFromItem copies the download fields out of an item.
func SourceFromItem(item *indexer.Item, mediaID string) DownloadSource {
	return DownloadSource{
		URL:            item.URL,
		Password:       item.Password,
		Title:          item.Title,
		GUID:           item.GUID,
		FileName:       item.FileName,
		PendingPayload: item.PendingPayload,
		MediaID:        mediaID,
	}
}

// Query parameter names of a download source.
const (
	ParamKind           = "kind"
	ParamURL            = "url"
	ParamPassword       = "password"
	ParamTitle          = "title"
	ParamGUID           = "guid"
	ParamFileName       = "fileName"
	ParamPendingPayload = "pendingPayload"
	ParamMediaID        = "mediaId"
)

// Encode writes the non-empty fields of s into q.
func (s DownloadSource) Encode(q url.Values) {
	q.Set(ParamKind, SourceKind)
	q.Set(ParamMediaID, s.MediaID)
	for _, f := range []struct{ key, value string }{
		{ParamURL, s.URL},
		{ParamPassword, s.Password},
		{ParamFileName, s.FileName},
		{ParamPendingPayload, s.PendingPayload},
		{ParamTitle, s.Title},
		{ParamGUID, s.GUID},
	} {
		if f.value != "" {
			q.Set(f.key, f.value)
		}
	}
}

// SourceFromQuery reads a download source back from a resolve URL query.
func SourceFromQuery(q url.Values) (DownloadSource, error) {
	if kind := q.Get(ParamKind); kind != SourceKind {
		return DownloadSource{}, backend.NewValidationError("unsupported source kind " + kind)
	}
	src := DownloadSource{
		URL:            q.Get(ParamURL),
		Password:       q.Get(ParamPassword),
		Title:          q.Get(ParamTitle),
		GUID:           q.Get(ParamGUID),
		FileName:       q.Get(ParamFileName),
		PendingPayload: q.Get(ParamPendingPayload),
		MediaID:        q.Get(ParamMediaID),
	}
	switch {
	case src.URL == "":
		return DownloadSource{}, backend.NewValidationError("source url is required")
	case src.Title == "":
		return DownloadSource{}, backend.NewValidationError("source title is required")
	case src.GUID == "":
		return DownloadSource{}, backend.NewValidationError("source guid is required")
	case src.MediaID == "":
		return DownloadSource{}, backend.NewValidationError("source media id is required")
	}
	if _, err := ParsePendingPayload(src.PendingPayload); err != nil {
		return DownloadSource{}, err
	}
	return src, nil
}
