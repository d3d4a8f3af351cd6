package epub

import (
	"fmt"
)

// Spine is the ordered reading sequence of the publication. Every entry
// references a manifest item; the order is the document order of the
// package's itemref elements.
type Spine struct {
	items []*Item
	toc   *Item
}

// Len returns the number of spine entries.
func (s *Spine) Len() int {
	return len(s.items)
}

// Items returns the spine entries in reading order.
func (s *Spine) Items() []*Item {
	out := make([]*Item, len(s.items))
	copy(out, s.items)
	return out
}

// At returns the spine entry at position i in reading order.
func (s *Spine) At(i int) *Item {
	return s.items[i]
}

// TocItem returns the manifest item holding the table of contents: the NCX
// document named by the spine's toc attribute, or the EPUB 3 navigation
// document when the attribute is absent.
func (s *Spine) TocItem() *Item {
	return s.toc
}

// buildSpine parses the spine section of the package document and resolves
// each itemref against the manifest. Unresolvable references are structural
// errors rather than items to skip, since a spine position silently dropped
// would shift the reading order.
func (e *Epub) buildSpine(m *Manifest) (*Spine, error) {
	sp := e.pkg.FindElement("//spine")
	if sp == nil {
		return nil, fmt.Errorf("epub: package spine missing: %w", ErrStructure)
	}
	s := &Spine{}

	tocID := sp.SelectAttrValue("toc", "")
	if tocID == "" {
		// EPUB 3 packages have no toc attribute; fall back to the item
		// carrying the nav property.
		for _, it := range m.items {
			if it.hasProperty("nav") {
				s.toc = it
				break
			}
		}
		if s.toc == nil {
			return nil, fmt.Errorf("epub: spine toc attribute missing: %w", ErrStructure)
		}
	} else {
		it := m.ByID(tocID)
		if it == nil {
			return nil, fmt.Errorf("epub: spine toc references unknown manifest item %q: %w", tocID, ErrStructure)
		}
		s.toc = it
	}

	for _, el := range sp.SelectElements("itemref") {
		idref := el.SelectAttrValue("idref", "")
		if idref == "" {
			e.log.Warn("spine itemref missing idref, skipping")
			continue
		}
		it := m.ByID(idref)
		if it == nil {
			return nil, fmt.Errorf("epub: spine references unknown manifest item %q: %w", idref, ErrStructure)
		}
		// linear="no" entries stay in the sequence; presentation is the
		// reader's concern, not ours.
		s.items = append(s.items, it)
	}
	return s, nil
}
