package epub

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/beevik/etree"
)

// NavPoint is a single entry in the navigation tree. ContentFile is the
// resolved ZIP-internal path of the target document and ContentFragment the
// anchor inside it, without the leading '#'.
type NavPoint struct {
	ID              string
	Class           string
	PlayOrder       int
	Label           string
	ContentFile     string
	ContentFragment string
	Children        []*NavPoint
}

// Toc is the navigation tree of the publication, read from the NCX file or,
// for EPUB 3 publications without one, from the navigation document.
type Toc struct {
	DocTitle  string
	DocAuthor string
	NavPoints []*NavPoint
}

// buildToc parses the table of contents named by the spine.
func (e *Epub) buildToc(m *Manifest, s *Spine) (*Toc, error) {
	if isNCX(s.toc) {
		return e.parseNCX(s.toc, m)
	}
	return e.parseNavDoc(s.toc, m)
}

// isNCX reports whether the item is an NCX document rather than an EPUB 3
// navigation document.
func isNCX(it *Item) bool {
	if strings.EqualFold(it.MediaType, "application/x-dtbncx+xml") {
		return true
	}
	return strings.HasSuffix(strings.ToLower(it.Path), ".ncx")
}

// parseNCX parses an NCX document into the navigation tree. Every content
// reference must resolve to a manifest item; a dangling reference is a
// structural error.
func (e *Epub) parseNCX(it *Item, m *Manifest) (*Toc, error) {
	doc, err := e.loadXMLMember(it.Path)
	if err != nil {
		return nil, err
	}
	root := doc.Root()
	if root == nil || root.Tag != "ncx" {
		return nil, fmt.Errorf("epub: %s is not an NCX document: %w", it.Path, ErrStructure)
	}

	t := &Toc{}
	if el := doc.FindElement("//docTitle/text"); el != nil {
		t.DocTitle = strings.TrimSpace(el.Text())
	}
	if el := doc.FindElement("//docAuthor/text"); el != nil {
		t.DocAuthor = strings.TrimSpace(el.Text())
	}

	navMap := doc.FindElement("//navMap")
	if navMap == nil {
		return nil, fmt.Errorf("epub: NCX navMap missing: %s: %w", it.Path, ErrStructure)
	}
	for _, np := range navMap.SelectElements("navPoint") {
		point, err := e.parseNavPoint(np, it.Path, m)
		if err != nil {
			return nil, err
		}
		t.NavPoints = append(t.NavPoints, point)
	}
	return t, nil
}

// parseNavPoint converts a navPoint element and its nested children,
// preserving document order.
func (e *Epub) parseNavPoint(el *etree.Element, ncxPath string, m *Manifest) (*NavPoint, error) {
	p := &NavPoint{
		ID:    el.SelectAttrValue("id", ""),
		Class: el.SelectAttrValue("class", ""),
	}
	if v := strings.TrimSpace(el.SelectAttrValue("playOrder", "")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			p.PlayOrder = n
		}
	}
	if lbl := el.FindElement("navLabel/text"); lbl != nil {
		p.Label = strings.TrimSpace(lbl.Text())
	}
	if content := el.SelectElement("content"); content != nil {
		src := strings.TrimSpace(content.SelectAttrValue("src", ""))
		if src != "" {
			file, frag := splitFragment(src)
			resolved := resolveRelativePath(ncxPath, file)
			if resolved == "" || !m.containsPath(resolved) {
				return nil, fmt.Errorf("epub: navPoint %q references %q which is not in the manifest: %w", p.ID, src, ErrStructure)
			}
			p.ContentFile = resolved
			p.ContentFragment = frag
		}
	}
	for _, child := range el.SelectElements("navPoint") {
		c, err := e.parseNavPoint(child, ncxPath, m)
		if err != nil {
			return nil, err
		}
		p.Children = append(p.Children, c)
	}
	return p, nil
}

// parseNavDoc parses an EPUB 3 XHTML navigation document into the navigation
// tree. PlayOrder values are synthesized in pre-order since the format has no
// explicit ordering attribute.
func (e *Epub) parseNavDoc(it *Item, m *Manifest) (*Toc, error) {
	data, err := it.Data()
	if err != nil {
		return nil, fmt.Errorf("epub: failed to read from container: %s: %w", it.Path, ErrStructure)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(normalizeSelfClosingSkipTags(stripBOM(data))))
	if err != nil {
		return nil, fmt.Errorf("epub: parse nav document %s: %s: %w", it.Path, err, ErrStructure)
	}

	t := &Toc{DocTitle: strings.TrimSpace(doc.Find("title").First().Text())}

	var nav *goquery.Selection
	doc.Find("nav").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if hasTypeToken(sel.AttrOr("epub:type", ""), "toc") {
			nav = sel
			return false
		}
		return true
	})
	if nav == nil {
		// No nav is typed as toc; settle for the first one.
		first := doc.Find("nav").First()
		if first.Length() == 0 {
			return nil, fmt.Errorf("epub: nav document %s has no toc nav element: %w", it.Path, ErrStructure)
		}
		nav = first
	}

	order := 0
	points, err := e.parseNavList(nav.ChildrenFiltered("ol").First(), it.Path, m, &order)
	if err != nil {
		return nil, err
	}
	t.NavPoints = points
	return t, nil
}

// parseNavList converts the li children of a nav ol element.
func (e *Epub) parseNavList(ol *goquery.Selection, basePath string, m *Manifest, order *int) ([]*NavPoint, error) {
	var points []*NavPoint
	lis := ol.ChildrenFiltered("li")
	for i := 0; i < lis.Length(); i++ {
		p, err := e.parseNavItem(lis.Eq(i), basePath, m, order)
		if err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, nil
}

// parseNavItem converts a single li element. Each li carries either an a
// with label and target or a span with just a label, plus an optional
// nested ol of children.
func (e *Epub) parseNavItem(li *goquery.Selection, basePath string, m *Manifest, order *int) (*NavPoint, error) {
	p := &NavPoint{Class: li.AttrOr("class", "")}

	a := li.ChildrenFiltered("a").First()
	if a.Length() > 0 {
		p.Label = strings.TrimSpace(a.Text())
		p.ID = a.AttrOr("id", li.AttrOr("id", ""))
		if href := strings.TrimSpace(a.AttrOr("href", "")); href != "" {
			file, frag := splitFragment(href)
			resolved := resolveRelativePath(basePath, file)
			if resolved == "" || !m.containsPath(resolved) {
				return nil, fmt.Errorf("epub: nav entry %q references %q which is not in the manifest: %w", p.Label, href, ErrStructure)
			}
			p.ContentFile = resolved
			p.ContentFragment = frag
		}
	} else {
		p.Label = strings.TrimSpace(li.ChildrenFiltered("span").First().Text())
		p.ID = li.AttrOr("id", "")
	}

	*order++
	p.PlayOrder = *order

	if childOL := li.ChildrenFiltered("ol").First(); childOL.Length() > 0 {
		children, err := e.parseNavList(childOL, basePath, m, order)
		if err != nil {
			return nil, err
		}
		p.Children = children
	}
	return p, nil
}

// splitFragment splits an href into its file part and fragment identifier.
func splitFragment(href string) (file, fragment string) {
	if i := strings.IndexByte(href, '#'); i >= 0 {
		return href[:i], href[i+1:]
	}
	return href, ""
}

// hasTypeToken reports whether the space-separated token list val contains
// the given token.
func hasTypeToken(val, token string) bool {
	for _, t := range strings.Fields(val) {
		if t == token {
			return true
		}
	}
	return false
}

// copyNavPoints deep-copies a navigation subtree so that callers can modify
// the returned tree without corrupting the cached one.
func copyNavPoints(points []*NavPoint) []*NavPoint {
	if points == nil {
		return nil
	}
	out := make([]*NavPoint, len(points))
	for i, p := range points {
		cp := *p
		cp.Children = copyNavPoints(p.Children)
		out[i] = &cp
	}
	return out
}
