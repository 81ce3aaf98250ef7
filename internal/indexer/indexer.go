package indexer

import (
	"context"
	"net/url"
	"sort"

	"github.com/byoiap/byoiap/internal/backend"
	"github.com/byoiap/byoiap/internal/mediaid"
)

// Indexer defines the interface for search indexers.
type Indexer interface {
	// ID returns the identifier users select the indexer by.
	ID() string

	// Query returns every normalized item the backend lists for id.
	Query(ctx context.Context, cfg Config, id mediaid.MediaID) ([]*Item, error)
}

// Config holds the per-user settings of an indexer.
type Config struct {
	ID     string `json:"id" mapstructure:"id"`
	URL    string `json:"url" mapstructure:"url"`
	APIKey string `json:"apiKey" mapstructure:"apiKey"`
}

// Validate checks that the config can be used to issue requests.
func (c Config) Validate() error {
	if c.ID == "" {
		return backend.NewValidationError("indexer id is required")
	}
	if c.URL == "" {
		return backend.NewValidationError("indexer url is required")
	}
	u, err := url.Parse(c.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return backend.NewValidationError("indexer url must be an absolute http(s) url")
	}
	return nil
}

// Registry holds the indexers available to users, keyed by ID.
type Registry struct {
	indexers map[string]Indexer
}

// NewRegistry creates a registry of the given indexers.
func NewRegistry(indexers ...Indexer) *Registry {
	r := &Registry{indexers: make(map[string]Indexer, len(indexers))}
	for _, idx := range indexers {
		r.indexers[idx.ID()] = idx
	}
	return r
}

// Get returns the indexer registered under id.
func (r *Registry) Get(id string) (Indexer, bool) {
	idx, ok := r.indexers[id]
	return idx, ok
}

// IDs returns the registered indexer IDs in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.indexers))
	for id := range r.indexers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
