package epub

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// keepTags is the allow-list of formatting tags preserved by
// markup-preserving extraction. Everything else contributes only its text;
// structural wrappers additionally contribute a line break (see blockTags).
var keepTags = map[atom.Atom]bool{
	atom.Br:     true,
	atom.P:      true,
	atom.H1:     true,
	atom.H2:     true,
	atom.H3:     true,
	atom.H4:     true,
	atom.H5:     true,
	atom.Span:   true,
	atom.Div:    true,
	atom.I:      true,
	atom.Strong: true,
	atom.B:      true,
	atom.Table:  true,
	atom.Td:     true,
	atom.Th:     true,
	atom.Tr:     true,
}

// pendingMarker is a closing tag or line break scheduled for emission when
// the walk leaves the subtree of node.
type pendingMarker struct {
	node   *html.Node
	marker string
}

// extractFragment renders the document subtree between the begin and end
// anchors as text. The walk is iterative with an explicit marker stack so
// that arbitrarily deep documents cannot exhaust the call stack.
//
// The walk starts at the element with id beginID (the body or document root
// when beginID is empty), proceeds in document order past the start subtree,
// and stops on the element carrying endID, exclusively. Closing markers are
// emitted on subtree exit, which handles empty elements correctly; markers
// still pending when the walk stops are flushed innermost-first.
func extractFragment(root *html.Node, beginID, endID string, keepMarkup bool) (string, error) {
	start := root
	if beginID != "" {
		start = findByID(root, beginID)
		if start == nil {
			return "", fmt.Errorf("epub: begin of fragment not found: %w", ErrNotFound)
		}
	} else if body := findElement(root, atom.Body); body != nil {
		start = body
	}

	var sb strings.Builder
	var pending []pendingMarker
	endFound := endID == ""
	lastWasNewline := true

	emitText := func(s string) {
		if s == "" {
			return
		}
		sb.WriteString(s)
		lastWasNewline = strings.HasSuffix(s, "\n")
	}
	emitNewline := func() {
		if sb.Len() > 0 && !lastWasNewline {
			sb.WriteByte('\n')
			lastWasNewline = true
		}
	}

	node := start
walk:
	for node != nil {
		switch node.Type {
		case html.ElementNode:
			if endID != "" && nodeID(node) == endID {
				endFound = true
				break walk
			}
			if keepMarkup && keepTags[node.DataAtom] {
				if node.DataAtom == atom.Br {
					emitText("<br/>")
				} else {
					emitText("<" + node.Data + ">")
					pending = append(pending, pendingMarker{node: node, marker: "</" + node.Data + ">"})
				}
			} else if blockTags[node.DataAtom] {
				pending = append(pending, pendingMarker{node: node, marker: "\n"})
			}
		case html.TextNode:
			if keepMarkup {
				emitText(html.EscapeString(node.Data))
			} else {
				emitText(node.Data)
			}
		}

		if node.FirstChild != nil && !(node.Type == html.ElementNode && skipTags[node.DataAtom]) {
			node = node.FirstChild
			continue
		}
		for node != nil {
			if len(pending) > 0 && pending[len(pending)-1].node == node {
				top := pending[len(pending)-1]
				pending = pending[:len(pending)-1]
				if top.marker == "\n" {
					emitNewline()
				} else {
					emitText(top.marker)
				}
			}
			if node.NextSibling != nil {
				node = node.NextSibling
				continue walk
			}
			node = node.Parent
		}
	}

	if !endFound {
		return "", fmt.Errorf("epub: end of fragment not found: %w", ErrNotFound)
	}
	for i := len(pending) - 1; i >= 0; i-- {
		if pending[i].marker == "\n" {
			emitNewline()
		} else {
			emitText(pending[i].marker)
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

// nodeID returns the value of the element's id attribute, or "".
func nodeID(n *html.Node) string {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == "id" {
			return a.Val
		}
	}
	return ""
}

// Contents returns the text of every XHTML spine document in reading order,
// joined with newlines. With keepMarkup the output preserves the formatting
// tags of the allow-list, escaped text, and no attributes.
func (e *Epub) Contents(keepMarkup bool) (string, error) {
	s, err := e.Spine()
	if err != nil {
		return "", err
	}
	var parts []string
	for _, it := range s.items {
		if !it.isXHTML() {
			continue
		}
		text, err := e.itemText(it, "", "", keepMarkup)
		if err != nil {
			return "", err
		}
		if text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n"), nil
}

// ItemContents returns the text of the manifest item with the given id.
func (e *Epub) ItemContents(id string, keepMarkup bool) (string, error) {
	it, err := e.manifestItem(id)
	if err != nil {
		return "", err
	}
	return e.itemText(it, "", "", keepMarkup)
}

// ItemFragment returns the text of the manifest item with the given id,
// restricted to the fragment between the elements carrying beginID and
// endID. An empty beginID starts at the document body; an empty endID runs
// to the end of the document.
func (e *Epub) ItemFragment(id, beginID, endID string, keepMarkup bool) (string, error) {
	it, err := e.manifestItem(id)
	if err != nil {
		return "", err
	}
	return e.itemText(it, beginID, endID, keepMarkup)
}

func (e *Epub) manifestItem(id string) (*Item, error) {
	m, err := e.Manifest()
	if err != nil {
		return nil, err
	}
	it := m.ByID(id)
	if it == nil {
		return nil, fmt.Errorf("epub: unknown manifest item %q: %w", id, ErrInvalidInput)
	}
	return it, nil
}

func (e *Epub) itemText(it *Item, beginID, endID string, keepMarkup bool) (string, error) {
	root, err := e.loadXHTMLMember(it.Path)
	if err != nil {
		return "", err
	}
	return extractFragment(root, beginID, endID, keepMarkup)
}
