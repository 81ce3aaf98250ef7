// Package release extracts quality and episode information from release titles.
package release

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	qualityPattern  = regexp.MustCompile(`(?:[^a-zA-Z0-9]|^)(\d+)p(?:[^a-zA-Z0-9]|$)`)
	episodePattern  = regexp.MustCompile(`(?i)(?:^|[^a-z0-9])s(\d{2})(?:e(\d{2}))?(?:[^a-z0-9]|$)`)
	compoundPattern = regexp.MustCompile(`(?i)s\d{2}e\d{2}e\d{2}`)
	replacePattern  = regexp.MustCompile(`(?i)(s)(\d{2})(e)(\d{2})`)
	uncensoredWord  = regexp.MustCompile(`(?i)uncensored`)
	censoredWord    = regexp.MustCompile(`(?i)censored`)
)

// ExpectedQuality returns the vertical resolution advertised in a title such
// as "Show.S01E01.1080p.WEB", or 0 when none is present.
func ExpectedQuality(title string) int {
	m := qualityPattern.FindStringSubmatch(title)
	if m == nil {
		return 0
	}
	q, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return q
}

// EpisodeRef is a season number with an optional episode number (0 = absent).
type EpisodeRef struct {
	Season  int
	Episode int
}

// ExpectedEpisode parses an "SxxExx" or season-only "Sxx" marker from a title.
func ExpectedEpisode(title string) (EpisodeRef, bool) {
	m := episodePattern.FindStringSubmatch(title)
	if m == nil {
		return EpisodeRef{}, false
	}
	season, _ := strconv.Atoi(m[1])
	ref := EpisodeRef{Season: season}
	if m[2] != "" {
		ref.Episode, _ = strconv.Atoi(m[2])
	}
	return ref, true
}

// IsCompoundEpisode reports whether a title covers several episodes (SxxExxExx).
func IsCompoundEpisode(title string) bool {
	return compoundPattern.MatchString(title)
}

// TitleScore ranks titles: compound episodes and "censored" cuts lowest,
// "uncensored" cuts highest, everything else neutral.
func TitleScore(title string) int {
	if IsCompoundEpisode(title) {
		return -1
	}
	if uncensoredWord.MatchString(title) {
		return 1
	}
	if censoredWord.MatchString(title) {
		return -1
	}
	return 0
}

// ReplaceEpisodeNumber rewrites the first SxxExx marker in title to the given
// season and episode, keeping the original letter case.
func ReplaceEpisodeNumber(title string, season, episode int) string {
	loc := replacePattern.FindStringSubmatchIndex(title)
	if loc == nil {
		return title
	}
	var b strings.Builder
	b.WriteString(title[:loc[0]])
	b.WriteString(title[loc[2]:loc[3]])
	fmt.Fprintf(&b, "%02d", season)
	b.WriteString(title[loc[6]:loc[7]])
	fmt.Fprintf(&b, "%02d", episode)
	b.WriteString(title[loc[1]:])
	return b.String()
}

// MatchingCount counts equal characters from the start of both strings and
// then from their ends, which skips differing middles such as episode names.
func MatchingCount(a, b string) int {
	matching := 0
	minLength := min(len(a), len(b))

	for i := 0; i < minLength && a[i] == b[i]; i++ {
		matching++
	}

	remaining := minLength - matching
	for i := 0; i < remaining && a[len(a)-1-i] == b[len(b)-1-i]; i++ {
		matching++
	}

	return matching
}
