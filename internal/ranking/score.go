// Package ranking orders indexer items by user preference and turns them into
// stream descriptors.
package ranking

import (
	"math"
	"slices"
	"strings"

	"github.com/byoiap/byoiap/internal/indexer"
	"github.com/byoiap/byoiap/internal/release"
)

// Preferences are the user's ranking preferences, most preferred first.
type Preferences struct {
	Qualities         []int
	AudioLanguages    []string
	SubtitleLanguages []string
}

// Limits are the tuning constants of ranking and assembly.
type Limits struct {
	// MaxPerQuality caps the unstatused items kept per quality tier.
	MaxPerQuality int
	// MinPerQuality items per tier are kept regardless of their votes.
	MinPerQuality int
	// DownvoteWeight scales downvotes against upvotes in the vote score.
	DownvoteWeight float64
}

// DefaultLimits returns the stock tuning.
func DefaultLimits() Limits {
	return Limits{
		MaxPerQuality:  20,
		MinPerQuality:  5,
		DownvoteWeight: 1.49,
	}
}

// Ranker scores, sorts and assembles items.
type Ranker struct {
	Preferences Preferences
	Limits      Limits
}

// New returns a ranker with the given preferences and the default limits.
func New(prefs Preferences) *Ranker {
	return &Ranker{Preferences: prefs, Limits: DefaultLimits()}
}

const notPreferred = math.MinInt

// Score is the lexicographic sort key of an item. Every field ranks higher
// values first.
type Score struct {
	PreferredQuality int
	Quality          int
	Title            int
	Subtitles        int
	Audio            int
	Votes            float64
	Published        int64
	URL              string
}

// Score computes the sort key of item.
func (r *Ranker) Score(item *indexer.Item) Score {
	return Score{
		PreferredQuality: preferredQualityScore(item.ExpectedQuality, r.Preferences.Qualities),
		Quality:          item.ExpectedQuality,
		Title:            release.TitleScore(item.Title),
		Subtitles:        languageScore(item.LanguagesSubtitles, r.Preferences.SubtitleLanguages),
		Audio:            languageScore(item.LanguagesAudio, r.Preferences.AudioLanguages),
		Votes:            float64(item.Upvotes()) - r.Limits.DownvoteWeight*float64(item.Downvotes()),
		Published:        item.PublishDate.UnixMilli(),
		URL:              item.URL,
	}
}

func preferredQualityScore(quality int, preferred []int) int {
	i := slices.Index(preferred, quality)
	if i < 0 {
		return notPreferred
	}
	return -i
}

// languageScore ranks the best preferred language found. Items without any
// language information are neutral, items with only other languages rank
// below them.
func languageScore(found, preferred []string) int {
	if len(found) == 0 {
		return 0
	}
	for i, lang := range preferred {
		if slices.Contains(found, lang) {
			return math.MaxInt - i
		}
	}
	return -1
}

func cmpDesc[T int | int64 | float64](a, b T) int {
	switch {
	case a > b:
		return -1
	case a < b:
		return 1
	default:
		return 0
	}
}

// Compare returns a negative number when a ranks before b.
func Compare(a, b Score) int {
	if c := cmpDesc(a.PreferredQuality, b.PreferredQuality); c != 0 {
		return c
	}
	if c := cmpDesc(a.Quality, b.Quality); c != 0 {
		return c
	}
	if c := cmpDesc(a.Title, b.Title); c != 0 {
		return c
	}
	if c := cmpDesc(a.Subtitles, b.Subtitles); c != 0 {
		return c
	}
	if c := cmpDesc(a.Audio, b.Audio); c != 0 {
		return c
	}
	if c := cmpDesc(a.Votes, b.Votes); c != 0 {
		return c
	}
	if c := cmpDesc(a.Published, b.Published); c != 0 {
		return c
	}
	return -strings.Compare(a.URL, b.URL)
}

type scored struct {
	item  *indexer.Item
	score Score
}

// Sort orders items best first, in place.
func (r *Ranker) Sort(items []*indexer.Item) {
	list := make([]scored, len(items))
	for i, item := range items {
		list[i] = scored{item: item, score: r.Score(item)}
	}
	slices.SortStableFunc(list, func(a, b scored) int {
		return Compare(a.score, b.score)
	})
	for i := range list {
		items[i] = list[i].item
	}
}

// Best returns the top ranked item accepted by keep, or nil.
func (r *Ranker) Best(items []*indexer.Item, keep func(*indexer.Item) bool) *indexer.Item {
	var (
		best      *indexer.Item
		bestScore Score
	)
	for _, item := range items {
		if keep != nil && !keep(item) {
			continue
		}
		s := r.Score(item)
		if best == nil || Compare(s, bestScore) < 0 {
			best, bestScore = item, s
		}
	}
	return best
}
