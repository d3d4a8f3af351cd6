package epub

import (
	"bytes"
	"encoding/xml"
	"fmt"

	"github.com/beevik/etree"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
)

// newXMLDocument returns an etree document configured for the encoding
// declarations and entity sloppiness found in real-world ePub files.
func newXMLDocument() *etree.Document {
	doc := etree.NewDocument()
	doc.ReadSettings.CharsetReader = charset.NewReaderLabel
	doc.ReadSettings.Permissive = true
	doc.ReadSettings.Entity = xml.HTMLEntity
	return doc
}

// loadXMLMember reads and parses an XML archive member into a DOM.
// An absent or empty member reports ErrStructure, since every XML member
// we load is one the container structure promised to contain.
func (e *Epub) loadXMLMember(name string) (*etree.Document, error) {
	data, err := e.readMember(name)
	if err != nil || len(bytes.TrimSpace(stripBOM(data))) == 0 {
		return nil, fmt.Errorf("epub: failed to read from container: %s: %w", name, ErrStructure)
	}
	doc := newXMLDocument()
	if err := doc.ReadFromBytes(preprocessHTMLEntities(stripBOM(data))); err != nil {
		return nil, fmt.Errorf("epub: parse %s: %s: %w", name, err, ErrStructure)
	}
	return doc, nil
}

// loadXHTMLMember reads and parses an XHTML archive member with the
// error-tolerant HTML parser. Named entities are normalized to numeric
// references and the character encoding is sniffed before parsing.
func (e *Epub) loadXHTMLMember(name string) (*html.Node, error) {
	data, err := e.readMember(name)
	if err != nil {
		return nil, err
	}
	data = preprocessHTMLEntities(normalizeSelfClosingSkipTags(stripBOM(data)))
	r, err := charset.NewReader(bytes.NewReader(data), "")
	if err != nil {
		return nil, fmt.Errorf("epub: detect encoding of %s: %s: %w", name, err, ErrStructure)
	}
	node, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("epub: parse %s: %s: %w", name, err, ErrStructure)
	}
	return node, nil
}
