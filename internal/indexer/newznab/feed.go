package newznab

import (
	"encoding/xml"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/byoiap/byoiap/internal/indexer"
	"github.com/byoiap/byoiap/internal/langcode"
	"github.com/byoiap/byoiap/internal/release"
	"github.com/byoiap/byoiap/internal/xmltree"
)

// torboxSearchHost marks items whose URL only redirects to the real NZB.
const torboxSearchHost = "search-api.torbox.app"

// pendingItem is an item under construction while its <item> element is open.
type pendingItem struct {
	item        indexer.Item
	season      *int
	episode     *int
	indexerHost string
}

// feedState collects the items of one result page.
type feedState struct {
	// Requested episode, nil for movie queries.
	season  *int
	episode *int
	onTotal func(total int)

	items   []*indexer.Item
	unwrap  []*indexer.Item
	dropped int

	active *pendingItem
	text   strings.Builder
}

type attrHandler func(p *pendingItem, value string)

// coreAttrs are requested from the indexer via the attrs parameter, in this order.
var coreAttrs = []string{
	"grabs", "guid", "episode", "language", "password", "season", "subs", "thumbsup", "thumbsdown",
}

var attrHandlers = map[string]attrHandler{
	"grabs": func(p *pendingItem, v string) {
		if n, ok := parseInt(v); ok {
			p.item.Grabs = &n
		}
	},
	"guid":     func(p *pendingItem, v string) { p.item.GUID = v },
	"episode":  func(p *pendingItem, v string) { p.episode = firstNumber(v) },
	"language": func(p *pendingItem, v string) { p.item.LanguagesAudio = append(p.item.LanguagesAudio, langcode.Extract(v)...) },
	"password": func(p *pendingItem, v string) { p.item.Password = v },
	"season":   func(p *pendingItem, v string) { p.season = firstNumber(v) },
	"subs":     func(p *pendingItem, v string) { p.item.LanguagesSubtitles = append(p.item.LanguagesSubtitles, langcode.Extract(v)...) },
	"thumbsup": func(p *pendingItem, v string) {
		if n, ok := parseInt(v); ok {
			p.item.VotesUp = &n
		}
	},
	"thumbsdown": func(p *pendingItem, v string) {
		if n, ok := parseInt(v); ok {
			p.item.VotesDown = &n
		}
	},

	// Extended attributes, sent by some aggregators without being requested.
	"hydraIndexerHost": func(p *pendingItem, v string) { p.indexerHost = v },
}

var numberPattern = regexp.MustCompile(`\d+`)

func firstNumber(s string) *int {
	m := numberPattern.FindString(s)
	if m == "" {
		return nil
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return nil
	}
	return &n
}

func parseInt(s string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	return n, err == nil
}

var dateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	time.RFC822Z,
	time.RFC822,
	time.RFC3339,
}

// parseDate accepts the RSS date formats indexers emit as well as unix seconds.
func parseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC()
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// textNode collects the character data of an element and hands the trimmed
// result to set when the element closes.
func textNode(set func(p *pendingItem, text string)) *xmltree.Node[*feedState] {
	return &xmltree.Node[*feedState]{
		OnOpenStart: func(s *feedState, _ string) { s.text.Reset() },
		OnText:      func(s *feedState, text string) { s.text.WriteString(text) },
		OnClose: func(s *feedState, _ string) {
			if s.active != nil {
				set(s.active, strings.TrimSpace(s.text.String()))
			}
			s.text.Reset()
		},
	}
}

func optionalNumber(text string) *int {
	if n, ok := parseInt(text); ok {
		return &n
	}
	return nil
}

var feedTree = &xmltree.Node[*feedState]{
	Children: map[string]*xmltree.Node[*feedState]{
		"rss": {
			Children: map[string]*xmltree.Node[*feedState]{
				"channel": {
					Children: map[string]*xmltree.Node[*feedState]{
						"newznab:response": {
							Attrs: map[string]xmltree.AttrHandler[*feedState]{
								"total": func(s *feedState, v string) {
									if n, ok := parseInt(v); ok && s.onTotal != nil {
										s.onTotal(n)
									}
								},
							},
						},
						"item": {
							OnOpen: func(s *feedState, _ xml.StartElement) {
								s.active = &pendingItem{}
							},
							OnClose: func(s *feedState, _ string) {
								if s.active != nil {
									s.finishItem(s.active)
								}
								s.active = nil
							},
							Children: map[string]*xmltree.Node[*feedState]{
								"title": textNode(func(p *pendingItem, text string) { p.item.Title = text }),
								"guid": textNode(func(p *pendingItem, text string) {
									// The guid attribute wins over the element text.
									if p.item.GUID == "" {
										p.item.GUID = text
									}
								}),
								"pubDate":  textNode(func(p *pendingItem, text string) { p.item.PublishDate = parseDate(text) }),
								"season":   textNode(func(p *pendingItem, text string) { p.season = optionalNumber(text) }),
								"episode":  textNode(func(p *pendingItem, text string) { p.episode = optionalNumber(text) }),
								"language": textNode(func(p *pendingItem, text string) { p.item.LanguagesAudio = append(p.item.LanguagesAudio, langcode.Extract(text)...) }),
								"enclosure": {
									Attrs: map[string]xmltree.AttrHandler[*feedState]{
										"url": func(s *feedState, v string) {
											if s.active != nil {
												s.active.item.URL = v
											}
										},
										"length": func(s *feedState, v string) {
											if s.active == nil {
												return
											}
											if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
												s.active.item.Size = n
											}
										},
									},
								},
								"newznab:attr": {
									OnOpen: func(s *feedState, tag xml.StartElement) {
										if s.active == nil {
											return
										}
										name, _ := xmltree.AttrValue(tag, "name")
										value, ok := xmltree.AttrValue(tag, "value")
										if !ok {
											return
										}
										if h := attrHandlers[name]; h != nil {
											h(s.active, value)
										}
									},
								},
							},
						},
					},
				},
			},
		},
	},
}

// finishItem filters and normalizes a completed item and appends it to the page.
func (s *feedState) finishItem(p *pendingItem) {
	if p.item.URL == "" || p.item.Title == "" {
		s.dropped++
		return
	}

	if s.season != nil || s.episode != nil {
		if p.season == nil || p.episode == nil {
			if ref, ok := release.ExpectedEpisode(p.item.Title); ok {
				if p.season == nil {
					season := ref.Season
					p.season = &season
				}
				if p.episode == nil && ref.Episode > 0 {
					episode := ref.Episode
					p.episode = &episode
				}
			}
		}

		if p.season != nil && (s.season == nil || *p.season != *s.season) {
			s.dropped++
			return
		}
		if p.episode != nil && (s.episode == nil || *p.episode != *s.episode) {
			s.dropped++
			return
		}
		// Season packs cannot be matched to a single file reliably.
		if p.season != nil && p.episode == nil {
			s.dropped++
			return
		}
	}

	item := p.item
	if item.GUID == "" {
		item.GUID = item.URL
	}
	item.LanguagesAudio = langcode.Dedupe(item.LanguagesAudio)
	item.LanguagesSubtitles = langcode.Dedupe(item.LanguagesSubtitles)
	if item.LanguagesAudio == nil {
		item.LanguagesAudio = []string{}
	}
	if item.LanguagesSubtitles == nil {
		item.LanguagesSubtitles = []string{}
	}
	item.ExpectedQuality = release.ExpectedQuality(item.Title)

	s.items = append(s.items, &item)
	if p.indexerHost == torboxSearchHost {
		s.unwrap = append(s.unwrap, &item)
	}
}
