package newznab

import (
	"slices"
	"strconv"
	"strings"

	"github.com/byoiap/byoiap/internal/xmltree"
)

// Caps is the part of a capabilities document the query builder needs.
type Caps struct {
	// Limit is the maximum page size, 0 when not advertised.
	Limit int
	// Movie and TV list the supported search parameters; nil when the search
	// type is not advertised at all.
	Movie []string
	TV    []string

	hasLimit bool
}

// supports reports whether params contains name.
func supports(params []string, name string) bool {
	return slices.Contains(params, name)
}

type capsState struct {
	caps Caps
	// done is called whenever a field is filled in so parsing can stop early.
	done func()
}

func (s *capsState) complete() bool {
	return s.caps.hasLimit && s.caps.Movie != nil && s.caps.TV != nil
}

func (s *capsState) check() {
	if s.done != nil && s.complete() {
		s.done()
	}
}

func splitParams(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func searchingNode(tv bool) *xmltree.Node[*capsState] {
	return &xmltree.Node[*capsState]{
		Attrs: map[string]xmltree.AttrHandler[*capsState]{
			"supportedParams": func(s *capsState, v string) {
				if tv {
					s.caps.TV = splitParams(v)
				} else {
					s.caps.Movie = splitParams(v)
				}
				s.check()
			},
		},
	}
}

var capsTree = &xmltree.Node[*capsState]{
	Children: map[string]*xmltree.Node[*capsState]{
		"caps": {
			Children: map[string]*xmltree.Node[*capsState]{
				"limits": {
					Attrs: map[string]xmltree.AttrHandler[*capsState]{
						"max": func(s *capsState, v string) {
							if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
								s.caps.Limit = n
								s.caps.hasLimit = true
							}
							s.check()
						},
					},
				},
				"searching": {
					Children: map[string]*xmltree.Node[*capsState]{
						"movie":        searchingNode(false),
						"movie-search": searchingNode(false),
						"moviesearch":  searchingNode(false),
						"tv":           searchingNode(true),
						"tv-search":    searchingNode(true),
						"tvsearch":     searchingNode(true),
					},
				},
			},
		},
	},
}
