// Package addon ties indexers, providers, ranking, resolving and precaching
// into the operations the HTTP layer exposes.
package addon

import (
	"fmt"
	"strings"

	"github.com/byoiap/byoiap/internal/backend"
	"github.com/byoiap/byoiap/internal/indexer"
	"github.com/byoiap/byoiap/internal/langcode"
	"github.com/byoiap/byoiap/internal/provider"
	"github.com/byoiap/byoiap/internal/ranking"
)

// Limits of the shared settings.
const (
	MaxNextEpisodeCacheCount = 10
	MaxPendingRetrySeconds   = 600
	MaxPreferences           = 10
)

// Config is one user's addon configuration. It travels in request paths as a
// config token.
type Config struct {
	Indexer  indexer.Config  `json:"indexer"`
	Provider provider.Config `json:"provider"`
	Shared   SharedConfig    `json:"shared"`
}

// SharedConfig holds the settings that are not specific to a backend.
type SharedConfig struct {
	// NextEpisodeCacheCount is how many following episodes to precache when
	// an episode starts playing.
	NextEpisodeCacheCount int `json:"nextEpisodeCacheCount"`
	// PendingRetrySeconds is how long resolve keeps retrying a pending download.
	PendingRetrySeconds int `json:"pendingRetrySeconds"`

	PreferredQualities         []int    `json:"preferredQualities"`
	PreferredAudioLanguages    []string `json:"preferredAudioLanguages"`
	PreferredSubtitleLanguages []string `json:"preferredSubtitleLanguages"`
}

// DefaultConfig returns a configuration with the shared defaults and no
// backends.
func DefaultConfig() Config {
	return Config{
		Shared: SharedConfig{
			NextEpisodeCacheCount:      1,
			PendingRetrySeconds:        180,
			PreferredQualities:         []int{},
			PreferredAudioLanguages:    []string{"en"},
			PreferredSubtitleLanguages: []string{"en"},
		},
	}
}

// Validate checks every field of c.
func (c Config) Validate() error {
	if err := c.Indexer.Validate(); err != nil {
		return err
	}
	if err := c.Provider.Validate(); err != nil {
		return err
	}
	return c.Shared.Validate()
}

// Validate checks the ranges of the shared settings.
func (s SharedConfig) Validate() error {
	if s.NextEpisodeCacheCount < 0 || s.NextEpisodeCacheCount > MaxNextEpisodeCacheCount {
		return backend.NewValidationError(fmt.Sprintf("nextEpisodeCacheCount must be between 0 and %d", MaxNextEpisodeCacheCount))
	}
	if s.PendingRetrySeconds < 0 || s.PendingRetrySeconds > MaxPendingRetrySeconds {
		return backend.NewValidationError(fmt.Sprintf("pendingRetrySeconds must be between 0 and %d", MaxPendingRetrySeconds))
	}
	for name, n := range map[string]int{
		"preferredQualities":         len(s.PreferredQualities),
		"preferredAudioLanguages":    len(s.PreferredAudioLanguages),
		"preferredSubtitleLanguages": len(s.PreferredSubtitleLanguages),
	} {
		if n > MaxPreferences {
			return backend.NewValidationError(fmt.Sprintf("%s holds at most %d entries", name, MaxPreferences))
		}
	}
	return nil
}

// Preferences returns the ranking preferences of s with languages in the
// same two-letter form indexer items carry.
func (s SharedConfig) Preferences() ranking.Preferences {
	return ranking.Preferences{
		Qualities:         s.PreferredQualities,
		AudioLanguages:    normalizeLanguages(s.PreferredAudioLanguages),
		SubtitleLanguages: normalizeLanguages(s.PreferredSubtitleLanguages),
	}
}

func normalizeLanguages(langs []string) []string {
	out := make([]string, len(langs))
	for i, l := range langs {
		out[i] = langcode.Normalize(strings.TrimSpace(l))
	}
	return out
}
