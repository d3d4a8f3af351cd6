package epub

import (
	"strings"

	"github.com/beevik/etree"
)

// textEscaper escapes the characters that are markup-special in XML
// character data and attribute values.
var textEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&#34;",
	"'", "&#39;",
)

// element wraps an etree element with namespace-aware attribute and
// child access. Qualified names use the "prefix:local" syntax; prefixes
// resolve through the registry in namespace.go. Creation avoids
// redundant xmlns declarations so that serialized output stays in
// canonical namespace form, which is what the path queries issued by
// the metadata accessor assume.
type element struct {
	el *etree.Element
}

func wrapElement(el *etree.Element) *element {
	return &element{el: el}
}

// Attr returns the value of the attribute named by qname, or the empty
// string when the attribute is absent. A prefixed name matches the
// prefix exactly and falls back to an attribute carrying the same local
// name with no prefix, since real-world package documents vary in how
// they qualify attributes.
func (e *element) Attr(qname string) (string, error) {
	prefix, local := splitQName(qname)
	if prefix != "" {
		if _, err := resolvePrefix(prefix); err != nil {
			return "", err
		}
		for _, a := range e.el.Attr {
			if a.Space == prefix && a.Key == local {
				return a.Value, nil
			}
		}
	}
	for _, a := range e.el.Attr {
		if a.Space == "" && a.Key == local {
			return a.Value, nil
		}
	}
	return "", nil
}

// SetAttr sets the attribute named by qname, declaring the prefix's
// namespace on this element unless an ancestor already declares it.
func (e *element) SetAttr(qname, value string) error {
	prefix, local := splitQName(qname)
	if prefix == "" || prefix == "xmlns" {
		e.el.CreateAttr(qname, value)
		return nil
	}
	uri, err := resolvePrefix(prefix)
	if err != nil {
		return err
	}
	if prefix != "xml" && !declaresPrefix(e.el, prefix, uri) {
		e.el.CreateAttr("xmlns:"+prefix, uri)
	}
	e.el.CreateAttr(prefix+":"+local, value)
	return nil
}

// RemoveAttr removes the attribute named by qname. Removing an absent
// attribute is a no-op.
func (e *element) RemoveAttr(qname string) error {
	prefix, local := splitQName(qname)
	if prefix != "" {
		if _, err := resolvePrefix(prefix); err != nil {
			return err
		}
		if e.el.RemoveAttr(prefix+":"+local) != nil {
			return nil
		}
	}
	e.el.RemoveAttr(local)
	return nil
}

// NewChild appends a child element named by qname with the given text.
// When the resolved namespace URI equals the in-scope default namespace
// the child is created unprefixed; otherwise it is created with the
// prefix, declaring it only when no ancestor already does.
func (e *element) NewChild(qname, text string) (*element, error) {
	prefix, local := splitQName(qname)
	if prefix == "" {
		child := e.el.CreateElement(local)
		if text != "" {
			child.SetText(text)
		}
		return wrapElement(child), nil
	}
	uri, err := resolvePrefix(prefix)
	if err != nil {
		return nil, err
	}
	var child *etree.Element
	if defaultNamespace(e.el) == uri {
		child = e.el.CreateElement(local)
	} else {
		child = e.el.CreateElement(prefix + ":" + local)
		if prefix != "xml" && !declaresPrefix(e.el, prefix, uri) {
			child.CreateAttr("xmlns:"+prefix, uri)
		}
	}
	if text != "" {
		child.SetText(text)
	}
	return wrapElement(child), nil
}

// Text returns the unescaped text content. This is the canonical view
// for get/set by client code; escaping happens at serialization.
func (e *element) Text() string {
	return e.el.Text()
}

// SetText replaces the text content with the given unescaped string.
func (e *element) SetText(text string) {
	e.el.SetText(text)
}

// EscapedText returns the text content as it appears when serialized,
// with markup-special characters escaped.
func (e *element) EscapedText() string {
	return textEscaper.Replace(e.el.Text())
}

// Detach removes the element from its parent. Detaching an
// already-detached element is a no-op.
func (e *element) Detach() {
	if p := e.el.Parent(); p != nil {
		p.RemoveChild(e.el)
	}
}

// declaresPrefix reports whether el or one of its ancestors declares
// xmlns:prefix with the given URI. A nearer declaration binding the
// prefix to a different URI shadows outer ones.
func declaresPrefix(el *etree.Element, prefix, uri string) bool {
	for cur := el; cur != nil; cur = cur.Parent() {
		if v := cur.SelectAttrValue("xmlns:"+prefix, ""); v != "" {
			return v == uri
		}
	}
	return false
}

// defaultNamespace returns the in-scope default namespace URI of el,
// or the empty string when none is declared.
func defaultNamespace(el *etree.Element) string {
	for cur := el; cur != nil; cur = cur.Parent() {
		if v := cur.SelectAttrValue("xmlns", ""); v != "" {
			return v
		}
	}
	return ""
}
