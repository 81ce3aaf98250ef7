// Package xmltree drives structured extraction from a streamed XML document.
//
// A tree of Node descriptors mirrors the parts of the document a caller cares
// about. As tokens arrive, the Processor keeps a stack of the active node for
// every open element (nil for elements nobody described) and calls the
// handlers of the node on top of the stack. Uninteresting subtrees are skipped
// without error and the document is never materialized.
package xmltree

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"golang.org/x/net/html/charset"
)

// ErrMalformed wraps every error caused by the document itself rather than
// by reading it.
var ErrMalformed = errors.New("malformed xml")

// EventKind tags an Event.
type EventKind int

const (
	// EventOpenStart fires when an element name is read, before its attributes.
	EventOpenStart EventKind = iota
	// EventAttribute fires once per attribute of the element just opened.
	EventAttribute
	// EventOpen fires after all attributes of an element were dispatched.
	EventOpen
	// EventText fires for character data.
	EventText
	// EventClose fires when an element ends.
	EventClose
)

// Event is a single push-parser event.
type Event struct {
	Kind EventKind
	Name string           // element name for open/close events
	Attr xml.Attr         // attribute for EventAttribute
	Tag  xml.StartElement // full element for EventOpen
	Text string           // character data for EventText
}

// AttrHandler receives the value of a single named attribute.
type AttrHandler[T any] func(state T, value string)

// Node describes how to handle one element and which children are of
// interest. Every handler is optional.
type Node[T any] struct {
	OnOpenStart func(state T, name string)
	OnAttr      func(state T, attr xml.Attr)
	Attrs       map[string]AttrHandler[T]
	OnOpen      func(state T, tag xml.StartElement)
	OnText      func(state T, text string)
	OnClose     func(state T, name string)
	Children    map[string]*Node[T]
}

// Processor dispatches events against a node tree for one document.
type Processor[T any] struct {
	state    T
	stack    []*Node[T]
	names    []string
	finished atomic.Bool
}

// NewProcessor creates a processor whose root node holds the document element
// descriptors in Children.
func NewProcessor[T any](root *Node[T], state T) *Processor[T] {
	return &Processor[T]{
		state: state,
		stack: []*Node[T]{root},
	}
}

// Finish stops consumption after the event currently being dispatched. It is
// safe to call from within a handler.
func (p *Processor[T]) Finish() {
	p.finished.Store(true)
}

// Finished reports whether Finish was called.
func (p *Processor[T]) Finished() bool {
	return p.finished.Load()
}

// Depth returns the number of currently open elements.
func (p *Processor[T]) Depth() int {
	return len(p.stack) - 1
}

func (p *Processor[T]) top() *Node[T] {
	return p.stack[len(p.stack)-1]
}

// Dispatch applies a single event.
func (p *Processor[T]) Dispatch(ev Event) {
	switch ev.Kind {
	case EventOpenStart:
		var next *Node[T]
		if top := p.top(); top != nil {
			next = top.Children[ev.Name]
		}
		p.stack = append(p.stack, next)
		if next != nil && next.OnOpenStart != nil {
			next.OnOpenStart(p.state, ev.Name)
		}
	case EventAttribute:
		top := p.top()
		if top == nil {
			return
		}
		if top.OnAttr != nil {
			top.OnAttr(p.state, ev.Attr)
		}
		if h := top.Attrs[qualifiedName(ev.Attr.Name)]; h != nil {
			h(p.state, ev.Attr.Value)
		}
	case EventOpen:
		if top := p.top(); top != nil && top.OnOpen != nil {
			top.OnOpen(p.state, ev.Tag)
		}
	case EventText:
		if top := p.top(); top != nil && top.OnText != nil {
			top.OnText(p.state, ev.Text)
		}
	case EventClose:
		if top := p.top(); top != nil && top.OnClose != nil {
			top.OnClose(p.state, ev.Name)
		}
		if len(p.stack) > 1 {
			p.stack = p.stack[:len(p.stack)-1]
		}
	}
}

// Run reads r until the document ends, Finish is called or ctx is done.
// Malformed XML and read failures are returned as errors.
func (p *Processor[T]) Run(ctx context.Context, r io.Reader) error {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charset.NewReaderLabel
	dec.Entity = xml.HTMLEntity

	for !p.finished.Load() {
		if err := ctx.Err(); err != nil {
			return err
		}

		tok, err := dec.RawToken()
		if errors.Is(err, io.EOF) {
			if len(p.names) > 0 {
				return fmt.Errorf("%w: unexpected end of document inside <%s>", ErrMalformed, p.names[len(p.names)-1])
			}
			return nil
		}
		if err != nil {
			var syntaxErr *xml.SyntaxError
			if errors.As(err, &syntaxErr) {
				return fmt.Errorf("%w: %w", ErrMalformed, err)
			}
			return err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			name := qualifiedName(t.Name)
			p.names = append(p.names, name)
			p.Dispatch(Event{Kind: EventOpenStart, Name: name})
			for _, attr := range t.Attr {
				p.Dispatch(Event{Kind: EventAttribute, Attr: attr})
			}
			p.Dispatch(Event{Kind: EventOpen, Name: name, Tag: t.Copy()})
		case xml.EndElement:
			name := qualifiedName(t.Name)
			if len(p.names) == 0 || p.names[len(p.names)-1] != name {
				return fmt.Errorf("%w: unexpected closing tag </%s>", ErrMalformed, name)
			}
			p.names = p.names[:len(p.names)-1]
			p.Dispatch(Event{Kind: EventClose, Name: name})
		case xml.CharData:
			if len(p.names) > 0 {
				p.Dispatch(Event{Kind: EventText, Text: string(t)})
			}
		}
	}
	return nil
}

// qualifiedName keeps the document's own prefix ("newznab:attr") because raw
// tokens are not namespace-resolved.
func qualifiedName(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	return n.Space + ":" + n.Local
}

// AttrValue returns the value of the named attribute of tag.
func AttrValue(tag xml.StartElement, name string) (string, bool) {
	for _, attr := range tag.Attr {
		if qualifiedName(attr.Name) == name {
			return attr.Value, true
		}
	}
	return "", false
}
