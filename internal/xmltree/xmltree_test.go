package xmltree

import (
	"context"
	"encoding/xml"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bookState struct {
	titles  []string
	current strings.Builder
	ids     []string
	opened  int
	closed  int
	total   string
}

func bookTree() *Node[*bookState] {
	return &Node[*bookState]{
		Children: map[string]*Node[*bookState]{
			"library": {
				Attrs: map[string]AttrHandler[*bookState]{
					"total": func(s *bookState, v string) { s.total = v },
				},
				Children: map[string]*Node[*bookState]{
					"book": {
						OnOpen: func(s *bookState, tag xml.StartElement) {
							s.opened++
							if id, ok := AttrValue(tag, "x:id"); ok {
								s.ids = append(s.ids, id)
							}
						},
						OnClose: func(s *bookState, name string) { s.closed++ },
						Children: map[string]*Node[*bookState]{
							"title": {
								OnText: func(s *bookState, text string) { s.current.WriteString(text) },
								OnClose: func(s *bookState, name string) {
									s.titles = append(s.titles, strings.TrimSpace(s.current.String()))
									s.current.Reset()
								},
							},
						},
					},
				},
			},
		},
	}
}

func TestProcessor_Run(t *testing.T) {
	doc := `<?xml version="1.0" encoding="UTF-8"?>
<library total="2">
  <book x:id="a"><title>First &amp; Best</title><meta><title>ignored</title></meta></book>
  <unknown><book><title>nested but ignored</title></book></unknown>
  <book x:id="b"><title><![CDATA[Second]]></title></book>
</library>`

	state := &bookState{}
	p := NewProcessor(bookTree(), state)
	require.NoError(t, p.Run(context.Background(), strings.NewReader(doc)))

	assert.Equal(t, "2", state.total)
	assert.Equal(t, []string{"First & Best", "Second"}, state.titles)
	assert.Equal(t, []string{"a", "b"}, state.ids)
	assert.Equal(t, 2, state.opened)
	assert.Equal(t, 2, state.closed)
	assert.Equal(t, 0, p.Depth())
}

func TestProcessor_Finish(t *testing.T) {
	type earlyState struct {
		seen int
		p    *Processor[*earlyState]
	}
	tree := &Node[*earlyState]{
		Children: map[string]*Node[*earlyState]{
			"root": {
				Children: map[string]*Node[*earlyState]{
					"item": {
						OnOpen: func(s *earlyState, tag xml.StartElement) {
							s.seen++
							if s.seen == 2 {
								s.p.Finish()
							}
						},
					},
				},
			},
		},
	}

	state := &earlyState{}
	state.p = NewProcessor(tree, state)

	// The reader fails if consumed past the second item.
	r := io.MultiReader(
		strings.NewReader(`<root><item/><item/>`),
		&failingReader{},
	)
	require.NoError(t, state.p.Run(context.Background(), r))
	assert.Equal(t, 2, state.seen)
	assert.True(t, state.p.Finished())
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("read past finish")
}

func TestProcessor_Malformed(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"mismatched close", `<a><b></a>`},
		{"truncated", `<a><b>`},
		{"garbage", `<a attr=></a>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProcessor(bookTree(), &bookState{})
			err := p.Run(context.Background(), strings.NewReader(tt.doc))
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestProcessor_TransportError(t *testing.T) {
	p := NewProcessor(bookTree(), &bookState{})
	r := io.MultiReader(strings.NewReader(`<library>`), &failingReader{})
	err := p.Run(context.Background(), r)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMalformed)
	assert.Contains(t, err.Error(), "read past finish")
}

func TestProcessor_Dispatch(t *testing.T) {
	var events []string
	tree := &Node[*[]string]{
		Children: map[string]*Node[*[]string]{
			"a": {
				OnOpenStart: func(s *[]string, name string) { *s = append(*s, "openstart:"+name) },
				OnAttr:      func(s *[]string, attr xml.Attr) { *s = append(*s, "attr:"+attr.Name.Local) },
				OnText:      func(s *[]string, text string) { *s = append(*s, "text:"+text) },
				OnClose:     func(s *[]string, name string) { *s = append(*s, "close:"+name) },
			},
		},
	}

	p := NewProcessor(tree, &events)
	p.Dispatch(Event{Kind: EventOpenStart, Name: "a"})
	p.Dispatch(Event{Kind: EventAttribute, Attr: xml.Attr{Name: xml.Name{Local: "k"}, Value: "v"}})
	p.Dispatch(Event{Kind: EventOpen, Name: "a"})
	p.Dispatch(Event{Kind: EventOpenStart, Name: "b"})
	p.Dispatch(Event{Kind: EventText, Text: "inside b"})
	p.Dispatch(Event{Kind: EventClose, Name: "b"})
	p.Dispatch(Event{Kind: EventText, Text: "hi"})
	p.Dispatch(Event{Kind: EventClose, Name: "a"})

	assert.Equal(t, []string{"openstart:a", "attr:k", "text:hi", "close:a"}, events)
}
