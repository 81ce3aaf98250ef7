// Package mediaid parses the caller-supplied identifier of a movie or episode.
package mediaid

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/byoiap/byoiap/internal/backend"
)

// Kind discriminates movie and episode identities.
type Kind int

const (
	KindMovie Kind = iota + 1
	KindEpisode
)

// String returns the content type name used by clients ("movie" or "series").
func (k Kind) String() string {
	switch k {
	case KindMovie:
		return "movie"
	case KindEpisode:
		return "series"
	default:
		return "unknown"
	}
}

// MediaID identifies a movie or a single episode of a series.
// Season and Episode are only meaningful when Kind is KindEpisode.
type MediaID struct {
	Kind    Kind
	ImdbID  string
	Season  int
	Episode int
}

// Movie returns a movie identity.
func Movie(imdbID string) MediaID {
	return MediaID{Kind: KindMovie, ImdbID: imdbID}
}

// Episode returns an episode identity.
func Episode(seriesID string, season, episode int) MediaID {
	return MediaID{Kind: KindEpisode, ImdbID: seriesID, Season: season, Episode: episode}
}

// Parse converts "tt1234567" into a movie identity and "tt1234567:1:5" into
// an episode identity.
func Parse(s string) (MediaID, error) {
	parts := strings.Split(s, ":")
	if !validImdbID(parts[0]) {
		return MediaID{}, backend.NewValidationError(fmt.Sprintf("invalid media id %q", s))
	}

	switch len(parts) {
	case 1:
		return Movie(parts[0]), nil
	case 3:
		season, err := strconv.Atoi(parts[1])
		if err != nil || season < 0 {
			return MediaID{}, backend.NewValidationError(fmt.Sprintf("invalid season in media id %q", s))
		}
		episode, err := strconv.Atoi(parts[2])
		if err != nil || episode < 1 {
			return MediaID{}, backend.NewValidationError(fmt.Sprintf("invalid episode in media id %q", s))
		}
		return Episode(parts[0], season, episode), nil
	default:
		return MediaID{}, backend.NewValidationError(fmt.Sprintf("invalid media id %q", s))
	}
}

func validImdbID(s string) bool {
	digits, ok := strings.CutPrefix(s, "tt")
	if !ok || digits == "" {
		return false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// String renders the identity in the same form Parse accepts.
func (m MediaID) String() string {
	switch m.Kind {
	case KindEpisode:
		return fmt.Sprintf("%s:%d:%d", m.ImdbID, m.Season, m.Episode)
	case KindMovie:
		return m.ImdbID
	default:
		return ""
	}
}

// IsEpisode reports whether the identity refers to an episode.
func (m MediaID) IsEpisode() bool {
	return m.Kind == KindEpisode
}

// WithEpisode returns an episode identity of the same series.
func (m MediaID) WithEpisode(season, episode int) MediaID {
	return Episode(m.ImdbID, season, episode)
}
