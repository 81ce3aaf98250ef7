package ranking

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/byoiap/byoiap/internal/indexer"
	"github.com/byoiap/byoiap/internal/langcode"
	"github.com/byoiap/byoiap/internal/mediaid"
	"github.com/byoiap/byoiap/internal/provider"
)

// AddonName prefixes every stream name.
const AddonName = "byoiap"

// Stream is a playable stream descriptor as returned to media players.
type Stream struct {
	URL           string        `json:"url"`
	Name          string        `json:"name"`
	Title         string        `json:"title"`
	BehaviorHints BehaviorHints `json:"behaviorHints"`
}

// BehaviorHints help players group and play streams.
type BehaviorHints struct {
	BingeGroup  string `json:"bingeGroup"`
	Filename    string `json:"filename,omitempty"`
	NotWebReady *bool  `json:"notWebReady,omitempty"`
	VideoHash   string `json:"videoHash,omitempty"`
	VideoSize   int64  `json:"videoSize,omitempty"`
}

// StreamBuilder renders items of one request into streams.
type StreamBuilder struct {
	// Origin is the public scheme and host the server is reached at.
	Origin string
	// ConfigToken is the path segment carrying the user's configuration.
	ConfigToken string
	MediaID     mediaid.MediaID
	// CacheNext adds a next-episode precache URL to episode streams.
	CacheNext bool
	Now       func() time.Time
}

func (b *StreamBuilder) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

func (b *StreamBuilder) base(path string) string {
	return strings.TrimRight(b.Origin, "/") + "/" + url.PathEscape(b.ConfigToken) + "/" + path
}

// ResolveURL returns the URL that resolves item into a playable URL.
func (b *StreamBuilder) ResolveURL(item *indexer.Item) string {
	q := url.Values{}
	provider.SourceFromItem(item, b.MediaID.String()).Encode(q)

	if b.CacheNext && b.MediaID.IsEpisode() {
		next := url.Values{}
		next.Set("title", item.Title)
		q.Set("asyncChain", b.base("cachenext/"+url.PathEscape(b.MediaID.String()))+"?"+next.Encode())
	}
	return b.base("resolve") + "?" + q.Encode()
}

// Build renders one item.
func (b *StreamBuilder) Build(item *indexer.Item) Stream {
	quality := "Unknown"
	if item.ExpectedQuality > 0 {
		quality = strconv.Itoa(item.ExpectedQuality)
	}

	name := AddonName + "\n" + quality
	if label := item.Status.Label(); label != "" {
		name += "\n[" + label + "]"
	}

	hints := BehaviorHints{
		BingeGroup: AddonName + "-" + quality,
		Filename:   item.FileName,
		VideoHash:  item.OpenSubtitlesHash,
		VideoSize:  item.Size,
	}
	if item.Mimetype != "" {
		notWebReady := item.Mimetype != "video/mp4"
		hints.NotWebReady = &notWebReady
	}

	return Stream{
		URL:           b.ResolveURL(item),
		Name:          name,
		Title:         b.title(item),
		BehaviorHints: hints,
	}
}

// BuildAll renders items in order.
func (b *StreamBuilder) BuildAll(items []*indexer.Item) []Stream {
	streams := make([]Stream, 0, len(items))
	for _, item := range items {
		streams = append(streams, b.Build(item))
	}
	return streams
}

func (b *StreamBuilder) title(item *indexer.Item) string {
	var sb strings.Builder
	sb.WriteString(item.Title)
	sb.WriteString("\nAudio: ")
	sb.WriteString(flags(item.LanguagesAudio))
	sb.WriteString("\nSubtitles: ")
	sb.WriteString(flags(item.LanguagesSubtitles))
	fmt.Fprintf(&sb, "\nAge: %d", ageDays(item.PublishDate, b.now()))

	if item.Grabs != nil {
		fmt.Fprintf(&sb, " | Grabs: %d", *item.Grabs)
	}
	if item.Size > 0 {
		fmt.Fprintf(&sb, " | Size: %s", humanize.Bytes(uint64(item.Size)))
	}
	if item.HasVotes() {
		fmt.Fprintf(&sb, " | Votes: %d-%d", item.Upvotes(), item.Downvotes())
	}
	return sb.String()
}

func flags(codes []string) string {
	out := make([]string, len(codes))
	for i, code := range codes {
		out[i] = langcode.Flag(code)
	}
	return strings.Join(out, ",")
}

func ageDays(published, now time.Time) int {
	if published.IsZero() {
		return 0
	}
	return int(now.Sub(published) / (24 * time.Hour))
}
