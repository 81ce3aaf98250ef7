package indexer

import (
	"strings"
	"time"
)

// Status is the availability of an item on the provider. Only the provider's
// cache check sets it.
type Status int

const (
	StatusNone Status = iota
	StatusCached
	StatusReady
	StatusDownloading
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusCached:
		return "cached"
	case StatusReady:
		return "ready"
	case StatusDownloading:
		return "downloading"
	case StatusFailed:
		return "failed"
	default:
		return ""
	}
}

// Label returns the status as shown to users, e.g. "Ready".
func (s Status) Label() string {
	name := s.String()
	if name == "" {
		return ""
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

// Item is one candidate download normalized from an indexer response.
// Items belong to the request that produced them and are mutated in place by
// later pipeline stages.
type Item struct {
	GUID        string
	URL         string
	Title       string
	Password    string
	PublishDate time.Time

	Grabs     *int
	VotesUp   *int
	VotesDown *int
	// Size is in bytes, 0 when unknown.
	Size int64

	LanguagesAudio     []string
	LanguagesSubtitles []string

	// ExpectedQuality is the vertical resolution parsed from the title, 0 when unknown.
	ExpectedQuality int

	Status            Status
	FileName          string
	Mimetype          string
	OpenSubtitlesHash string
	PendingPayload    string
}

// Upvotes returns VotesUp or 0.
func (i *Item) Upvotes() int {
	if i.VotesUp == nil {
		return 0
	}
	return *i.VotesUp
}

// Downvotes returns VotesDown or 0.
func (i *Item) Downvotes() int {
	if i.VotesDown == nil {
		return 0
	}
	return *i.VotesDown
}

// IsBad reports whether an item has more downvotes than upvotes.
func (i *Item) IsBad() bool {
	return i.Downvotes() > i.Upvotes()
}

// HasVotes reports whether the indexer returned any vote count.
func (i *Item) HasVotes() bool {
	return i.VotesUp != nil || i.VotesDown != nil
}
