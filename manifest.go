package epub

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Item is a single manifest entry: one resource of the publication with its
// package-unique id and media type. Href is kept exactly as written in the
// package document; Path is the resolved ZIP-internal location.
type Item struct {
	ID         string
	Href       string
	MediaType  string
	Properties string
	Path       string

	e      *Epub
	data   []byte
	loaded bool
}

// Size returns the uncompressed size of the item's resource in bytes without
// reading it. It returns 0 when the resource is missing from the archive.
func (it *Item) Size() int64 {
	if it.loaded {
		return int64(len(it.data))
	}
	if it.e.deleted[it.Path] {
		return 0
	}
	if data, ok := it.e.staged[it.Path]; ok {
		return int64(len(data))
	}
	if f := it.e.findFile(it.Path); f != nil {
		return int64(f.UncompressedSize64)
	}
	return 0
}

// Data returns the item's contents, reading them from the archive on first
// use and caching them for subsequent calls.
func (it *Item) Data() ([]byte, error) {
	if it.loaded {
		return it.data, nil
	}
	data, err := it.e.readMember(it.Path)
	if err != nil {
		return nil, err
	}
	it.data = data
	it.loaded = true
	return data, nil
}

// hasProperty reports whether the item's space-separated properties
// attribute contains p.
func (it *Item) hasProperty(p string) bool {
	for _, f := range strings.Fields(it.Properties) {
		if f == p {
			return true
		}
	}
	return false
}

// isXHTML reports whether the item holds XHTML or HTML content.
func (it *Item) isXHTML() bool {
	switch strings.ToLower(it.MediaType) {
	case "application/xhtml+xml", "text/html", "application/x-dtbook+xml":
		return true
	}
	return false
}

// Manifest is the ordered collection of resources declared by the package
// document.
type Manifest struct {
	items      []*Item
	byID       map[string]*Item
	lowerPaths map[string]bool
}

// Len returns the number of manifest items.
func (m *Manifest) Len() int {
	return len(m.items)
}

// Items returns the manifest items in document order.
func (m *Manifest) Items() []*Item {
	out := make([]*Item, len(m.items))
	copy(out, m.items)
	return out
}

// At returns the item at position i in document order.
func (m *Manifest) At(i int) *Item {
	return m.items[i]
}

// ByID returns the item with the given id, or nil when no such item exists.
func (m *Manifest) ByID(id string) *Item {
	return m.byID[id]
}

// containsPath reports whether some manifest item resolves to the given
// ZIP-internal path. The comparison is case-insensitive, matching the
// archive member lookup.
func (m *Manifest) containsPath(p string) bool {
	return m.lowerPaths[strings.ToLower(p)]
}

// buildManifest parses the manifest section of the package document.
// Items without an id or href are skipped with a warning; a duplicate id is
// a structural error because id lookup would become ambiguous.
func (e *Epub) buildManifest() (*Manifest, error) {
	mf := e.pkg.FindElement("//manifest")
	if mf == nil {
		return nil, fmt.Errorf("epub: package manifest missing: %w", ErrStructure)
	}

	m := &Manifest{
		byID:       make(map[string]*Item),
		lowerPaths: make(map[string]bool),
	}
	for _, el := range mf.SelectElements("item") {
		id := el.SelectAttrValue("id", "")
		href := el.SelectAttrValue("href", "")
		if id == "" || href == "" {
			e.log.Warn("manifest item missing id or href, skipping",
				zap.String("id", id), zap.String("href", href))
			continue
		}
		if _, dup := m.byID[id]; dup {
			return nil, fmt.Errorf("epub: duplicate manifest item id %q: %w", id, ErrStructure)
		}
		it := &Item{
			ID:         id,
			Href:       href,
			MediaType:  el.SelectAttrValue("media-type", ""),
			Properties: el.SelectAttrValue("properties", ""),
			Path:       resolveRelativePath(e.opfPath, href),
			e:          e,
		}
		if it.Path == "" {
			e.log.Warn("manifest item href escapes archive root",
				zap.String("id", id), zap.String("href", href))
		} else {
			m.lowerPaths[strings.ToLower(it.Path)] = true
		}
		m.items = append(m.items, it)
		m.byID[id] = it
	}
	return m, nil
}
