package epub

import (
	"bytes"
	"fmt"
	"html/template"
	"os"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/beevik/etree"
	"github.com/disintegration/imaging"
	"go.uber.org/zap"
)

// Reserved manifest ids for members injected by this library. A foreign
// package already using one of them is treated as ours: the entry is
// overwritten or deleted on the next cover or title page change.
const (
	coverImageID = "epubli-cover-image"
	titlePageID  = "epubli-title-page"
)

// defaultTitlePageTemplate is the XHTML document generated by
// AddCoverImageTitlePage when no custom template is given.
const defaultTitlePageTemplate = `<?xml version="1.0" encoding="utf-8"?>
<!DOCTYPE html>
<html xmlns="http://www.w3.org/1999/xhtml">
<head>
  <title>{{.Title}}</title>
  <style type="text/css">
    body { margin: 0; padding: 0; text-align: center; }
    img { max-width: 100%; max-height: 100%; }
  </style>
</head>
<body>
  <div><img src="{{.CoverPath}}" alt="{{.Title}}"/></div>
</body>
</html>
`

// CoverImage is a detected cover resolved to its archive member.
type CoverImage struct {
	Path      string
	MediaType string
	Data      []byte
}

// extFromMediaType maps an image media type to the file extension used for
// injected cover members.
func extFromMediaType(mediaType string) string {
	switch strings.ToLower(strings.TrimSpace(mediaType)) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/svg+xml":
		return ".svg"
	case "image/webp":
		return ".webp"
	}
	return ".img"
}

// Cover detects and returns the cover image using multiple strategies.
// Strategies are tried in priority order:
//  1. EPUB 3 manifest item with properties="cover-image"
//  2. EPUB 2 <meta name="cover" content="ID"/> → manifest lookup
//  3. <guide> reference type="cover" → first image of that XHTML page
//  4. manifest item whose id or href contains "cover" with image media type
//  5. first spine document's first image
//
// Returns ErrNoCover if no strategy succeeds.
func (e *Epub) Cover() (CoverImage, error) {
	m, err := e.Manifest()
	if err != nil {
		return CoverImage{}, err
	}
	s, err := e.Spine()
	if err != nil {
		return CoverImage{}, err
	}

	if it := coverFromManifestProperties(m); it != nil {
		return loadCoverImage(it)
	}
	if it := e.coverFromMetaCover(m); it != nil {
		return loadCoverImage(it)
	}
	if it := e.coverFromGuide(m); it != nil {
		return loadCoverImage(it)
	}
	if it := coverFromManifestHeuristic(m); it != nil {
		return loadCoverImage(it)
	}
	if it := e.coverFromFirstSpine(m, s); it != nil {
		return loadCoverImage(it)
	}
	return CoverImage{}, ErrNoCover
}

// coverFromManifestProperties searches the manifest for an item whose
// properties contain "cover-image" (EPUB 3), in document order.
func coverFromManifestProperties(m *Manifest) *Item {
	for _, it := range m.items {
		if it.hasProperty("cover-image") {
			return it
		}
	}
	return nil
}

// coverFromMetaCover looks for <meta name="cover" content="ID"/> and
// resolves the id through the manifest (EPUB 2). A non-image target is
// treated as an XHTML cover page and its first image is extracted.
func (e *Epub) coverFromMetaCover(m *Manifest) *Item {
	for _, meta := range e.pkg.FindElements("//meta") {
		if !strings.EqualFold(meta.SelectAttrValue("name", ""), "cover") {
			continue
		}
		content := meta.SelectAttrValue("content", "")
		if content == "" {
			continue
		}
		it := m.ByID(content)
		if it == nil {
			continue
		}
		if isImageMediaType(it.MediaType) {
			return it
		}
		data, err := e.readMember(it.Path)
		if err != nil {
			continue
		}
		if imgItem := e.resolveImageItem(m, firstImagePath(data, it.Path)); imgItem != nil {
			return imgItem
		}
	}
	return nil
}

// coverFromGuide searches the guide for a reference with type="cover",
// reads that XHTML page, and resolves its first image to a manifest item.
func (e *Epub) coverFromGuide(m *Manifest) *Item {
	guide := e.pkgSection("guide")
	if guide == nil {
		return nil
	}
	for _, ref := range guide.SelectElements("reference") {
		if !strings.EqualFold(ref.SelectAttrValue("type", ""), "cover") {
			continue
		}
		href, _ := splitFragment(ref.SelectAttrValue("href", ""))
		xhtmlPath := resolveRelativePath(e.opfPath, href)
		if xhtmlPath == "" {
			continue
		}
		data, err := e.readMember(xhtmlPath)
		if err != nil {
			continue
		}
		if it := e.resolveImageItem(m, firstImagePath(data, xhtmlPath)); it != nil {
			return it
		}
	}
	return nil
}

// coverFromManifestHeuristic searches the manifest for an item whose id or
// href contains "cover" (case-insensitive) with an image media type,
// in document order.
func coverFromManifestHeuristic(m *Manifest) *Item {
	for _, it := range m.items {
		if !isImageMediaType(it.MediaType) {
			continue
		}
		if containsFold(it.ID, "cover") || containsFold(it.Href, "cover") {
			return it
		}
	}
	return nil
}

// coverFromFirstSpine reads the first spine document and resolves its first
// image to a manifest item.
func (e *Epub) coverFromFirstSpine(m *Manifest, s *Spine) *Item {
	if len(s.items) == 0 {
		return nil
	}
	first := s.items[0]
	if !first.isXHTML() {
		return nil
	}
	data, err := e.readMember(first.Path)
	if err != nil {
		return nil
	}
	return e.resolveImageItem(m, firstImagePath(data, first.Path))
}

// loadCoverImage reads the image data behind a manifest item.
func loadCoverImage(it *Item) (CoverImage, error) {
	data, err := it.Data()
	if err != nil {
		return CoverImage{}, err
	}
	return CoverImage{Path: it.Path, MediaType: it.MediaType, Data: data}, nil
}

// resolveImageItem maps a resolved ZIP-internal image path to the manifest
// item declaring it.
func (e *Epub) resolveImageItem(m *Manifest, absPath string) *Item {
	if absPath == "" {
		return nil
	}
	for _, it := range m.items {
		if isImageMediaType(it.MediaType) && strings.EqualFold(it.Path, absPath) {
			return it
		}
	}
	return nil
}

// firstImagePath returns the resolved ZIP-internal path of the first img
// or SVG image reference in an XHTML document, or "".
func firstImagePath(data []byte, basePath string) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return ""
	}
	if src, ok := doc.Find("img").First().Attr("src"); ok && src != "" {
		return resolveRelativePath(basePath, src)
	}
	img := doc.Find("image").First()
	for _, key := range []string{"xlink:href", "href"} {
		if href, ok := img.Attr(key); ok && href != "" {
			return resolveRelativePath(basePath, href)
		}
	}
	return ""
}

// isImageMediaType returns true if the media type starts with "image/".
func isImageMediaType(mediaType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mediaType)), "image/")
}

// containsFold reports whether s contains substr, case-insensitively.
func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// CoverThumbnail returns the cover scaled down to the given width as JPEG
// bytes, preserving aspect ratio. Covers narrower than width are encoded
// unscaled.
func (e *Epub) CoverThumbnail(width int) ([]byte, error) {
	if width <= 0 {
		return nil, fmt.Errorf("epub: thumbnail width must be positive: %w", ErrInvalidInput)
	}
	cover, err := e.Cover()
	if err != nil {
		return nil, err
	}
	src, err := imaging.Decode(bytes.NewReader(cover.Data))
	if err != nil {
		return nil, fmt.Errorf("epub: decode cover image: %w", err)
	}
	if src.Bounds().Dx() > width {
		src = imaging.Resize(src, width, 0, imaging.Box)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, src, imaging.JPEG); err != nil {
		return nil, fmt.Errorf("epub: encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

// SetCover replaces the publication's cover with the image file at path.
// The image is staged as an archive member under the reserved cover id and
// written on the next save; any previously set cover is cleared first.
func (e *Epub) SetCover(path, mediaType string) error {
	if path == "" {
		return fmt.Errorf("epub: empty cover path: %w", ErrInvalidInput)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("epub: read cover image %s: %s: %w", path, err, ErrInvalidInput)
	}
	return e.setCoverData(data, mediaType)
}

// SetCoverData is SetCover for image data already in memory.
func (e *Epub) SetCoverData(data []byte, mediaType string) error {
	if len(data) == 0 {
		return fmt.Errorf("epub: empty cover image data: %w", ErrInvalidInput)
	}
	return e.setCoverData(data, mediaType)
}

func (e *Epub) setCoverData(data []byte, mediaType string) error {
	if err := e.ClearCover(); err != nil {
		return err
	}

	md := e.pkg.FindElement("//metadata")
	if md == nil {
		return fmt.Errorf("epub: package metadata missing: %w", ErrStructure)
	}
	mf := e.pkgSection("manifest")
	if mf == nil {
		return fmt.Errorf("epub: package manifest missing: %w", ErrStructure)
	}

	// ClearCover keys on the meta pointer; a cover marked only by a
	// properties attribute survives it and would still win detection.
	for _, item := range mf.SelectElements("item") {
		stripProperty(item, "cover-image")
	}

	meta := md.CreateElement("meta")
	meta.CreateAttr("name", "cover")
	meta.CreateAttr("content", coverImageID)

	href := coverImageID + extFromMediaType(mediaType)
	item := mf.CreateElement("item")
	item.CreateAttr("id", coverImageID)
	item.CreateAttr("href", href)
	item.CreateAttr("media-type", mediaType)
	if strings.HasPrefix(e.Version(), "3") {
		item.CreateAttr("properties", "cover-image")
	}

	memberPath := resolveRelativePath(e.opfPath, href)
	e.stageMember(memberPath, data)
	e.log.Debug("staged cover image",
		zap.String("member", memberPath), zap.Int("bytes", len(data)))
	return e.resync()
}

// ClearCover removes the cover pointer and its manifest entry. The archive
// member itself is deleted only when it was injected under the reserved
// cover id; externally referenced images stay in place since other parts of
// the document may share them. Clearing a publication without a cover
// pointer is a no-op.
func (e *Epub) ClearCover() error {
	var metas []*etree.Element
	for _, meta := range e.pkg.FindElements("//meta") {
		if strings.EqualFold(meta.SelectAttrValue("name", ""), "cover") {
			metas = append(metas, meta)
		}
	}
	if len(metas) == 0 {
		return nil
	}

	mf := e.pkgSection("manifest")
	for _, meta := range metas {
		contentID := meta.SelectAttrValue("content", "")
		wrapElement(meta).Detach()
		if contentID == "" || mf == nil {
			continue
		}
		for _, item := range mf.SelectElements("item") {
			if item.SelectAttrValue("id", "") != contentID {
				continue
			}
			href := item.SelectAttrValue("href", "")
			wrapElement(item).Detach()
			if hasReservedBase(href, coverImageID) {
				if memberPath := resolveRelativePath(e.opfPath, href); memberPath != "" {
					e.deleteMember(memberPath)
				}
			}
		}
	}
	return e.resync()
}

// AddCoverImageTitlePage generates a front-of-book title page showing the
// cover image and inserts it first in the manifest, spine, and guide. The
// template, when non-empty, is an html/template body receiving .Title and
// .CoverPath; otherwise the built-in one is used. Any previously generated
// title page is replaced.
func (e *Epub) AddCoverImageTitlePage(tmpl string) error {
	if tmpl == "" {
		tmpl = defaultTitlePageTemplate
	}
	t, err := template.New("titlepage").Parse(tmpl)
	if err != nil {
		return fmt.Errorf("epub: parse title page template: %s: %w", err, ErrInvalidInput)
	}

	cover, err := e.Cover()
	if err != nil {
		return err
	}
	title, err := e.Title()
	if err != nil {
		return err
	}

	if err := e.RemoveTitlePage(); err != nil {
		return err
	}

	href := titlePageID + ".xhtml"
	var buf bytes.Buffer
	err = t.Execute(&buf, struct{ Title, CoverPath string }{
		Title:     title,
		CoverPath: relativeHref(e.opfDir, cover.Path),
	})
	if err != nil {
		return fmt.Errorf("epub: render title page: %s: %w", err, ErrInvalidInput)
	}

	mf := e.pkgSection("manifest")
	if mf == nil {
		return fmt.Errorf("epub: package manifest missing: %w", ErrStructure)
	}
	item := etree.NewElement("item")
	item.CreateAttr("id", titlePageID)
	item.CreateAttr("href", href)
	item.CreateAttr("media-type", "application/xhtml+xml")
	mf.InsertChildAt(0, item)

	sp := e.pkgSection("spine")
	if sp == nil {
		return fmt.Errorf("epub: package spine missing: %w", ErrStructure)
	}
	itemref := etree.NewElement("itemref")
	itemref.CreateAttr("idref", titlePageID)
	sp.InsertChildAt(0, itemref)

	guide := e.pkgSection("guide")
	if guide == nil {
		guide = e.pkg.Root().CreateElement("guide")
	}
	ref := etree.NewElement("reference")
	ref.CreateAttr("type", "title-page")
	ref.CreateAttr("title", "Title Page")
	ref.CreateAttr("href", href)
	guide.InsertChildAt(0, ref)

	memberPath := resolveRelativePath(e.opfPath, href)
	e.stageMember(memberPath, buf.Bytes())
	e.log.Debug("staged title page", zap.String("member", memberPath))
	return e.resync()
}

// RemoveTitlePage removes the generated title page member and its manifest,
// spine, and guide entries, keyed by the reserved title page id.
// Publications without one are left untouched.
func (e *Epub) RemoveTitlePage() error {
	changed := false
	href := ""

	if mf := e.pkgSection("manifest"); mf != nil {
		for _, item := range mf.SelectElements("item") {
			if item.SelectAttrValue("id", "") == titlePageID {
				href = item.SelectAttrValue("href", "")
				wrapElement(item).Detach()
				changed = true
			}
		}
	}
	if sp := e.pkgSection("spine"); sp != nil {
		for _, ref := range sp.SelectElements("itemref") {
			if ref.SelectAttrValue("idref", "") == titlePageID {
				wrapElement(ref).Detach()
				changed = true
			}
		}
	}
	if guide := e.pkgSection("guide"); guide != nil {
		for _, ref := range guide.SelectElements("reference") {
			if hasReservedBase(ref.SelectAttrValue("href", ""), titlePageID) {
				wrapElement(ref).Detach()
				changed = true
			}
		}
	}

	if !changed {
		return nil
	}
	if href == "" {
		href = titlePageID + ".xhtml"
	}
	if memberPath := resolveRelativePath(e.opfPath, href); memberPath != "" {
		e.deleteMember(memberPath)
	}
	return e.resync()
}

// stripProperty removes p from an item's space-separated properties
// attribute, dropping the attribute when no properties remain.
func stripProperty(item *etree.Element, p string) {
	attr := item.SelectAttr("properties")
	if attr == nil {
		return
	}
	fields := strings.Fields(attr.Value)
	kept := fields[:0]
	for _, f := range fields {
		if f != p {
			kept = append(kept, f)
		}
	}
	if len(kept) == len(fields) {
		return
	}
	if len(kept) == 0 {
		item.RemoveAttr("properties")
		return
	}
	item.CreateAttr("properties", strings.Join(kept, " "))
}

// hasReservedBase reports whether the href's base name, minus extension and
// fragment, equals the reserved id.
func hasReservedBase(href, reserved string) bool {
	file, _ := splitFragment(href)
	base := path.Base(file)
	return strings.TrimSuffix(base, path.Ext(base)) == reserved
}

// relativeHref expresses target relative to dir, both ZIP-internal paths.
func relativeHref(dir, target string) string {
	if dir == "." || dir == "" {
		return target
	}
	prefix := dir + "/"
	if strings.HasPrefix(target, prefix) {
		return target[len(prefix):]
	}
	ups := strings.Count(dir, "/") + 1
	return strings.Repeat("../", ups) + target
}
