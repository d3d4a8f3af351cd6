package epub

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/language"
)

// Author is a single creator of the publication. FileAs is the sort key
// ("Shakespeare, William") and Role the MARC relator code ("aut").
type Author struct {
	Name   string
	FileAs string
	Role   string
}

// Identifier is a single dc:identifier with its scheme resolved from the
// scheme attribute, an EPUB 3 refines meta, or the value's urn prefix.
type Identifier struct {
	Value  string
	Scheme string
	ID     string
}

// metadataElement returns the package metadata element. Ancient OEB-style
// packages nest the Dublin Core block in a dc-metadata child; use it when
// present so reads and writes target the same element.
func (e *Epub) metadataElement() (*etree.Element, error) {
	md := e.pkg.FindElement("//metadata")
	if md == nil {
		return nil, fmt.Errorf("epub: package metadata missing: %w", ErrStructure)
	}
	if dc := md.SelectElement("dc-metadata"); dc != nil {
		return dc, nil
	}
	return md, nil
}

// metadataChildren returns the direct children of md whose local name
// matches name, regardless of prefix. Real-world packages disagree on
// prefixes and even capitalization, so matching is by folded local name.
func metadataChildren(md *etree.Element, name string) []*etree.Element {
	_, local := splitQName(name)
	var out []*etree.Element
	for _, el := range md.ChildElements() {
		if strings.EqualFold(el.Tag, local) {
			out = append(out, el)
		}
	}
	return out
}

// attrLocalValue returns the value of the first attribute of el with the
// given local name, regardless of prefix.
func attrLocalValue(el *etree.Element, local string) string {
	for _, a := range el.Attr {
		if a.Key == local {
			return a.Value
		}
	}
	return ""
}

// attrFilterMatch reports whether el passes the optional attribute filter:
// an attribute with attr's local name whose value equals one of the
// candidate values, compared case-insensitively. An empty attr matches
// everything; an empty candidate list matches mere attribute presence.
func attrFilterMatch(el *etree.Element, attr string, values []string) bool {
	if attr == "" {
		return true
	}
	_, local := splitQName(attr)
	for _, a := range el.Attr {
		if !strings.EqualFold(a.Key, local) {
			continue
		}
		if len(values) == 0 {
			return true
		}
		for _, v := range values {
			if strings.EqualFold(a.Value, v) {
				return true
			}
		}
	}
	return false
}

// getSingleton returns the unescaped text of the first metadata child with
// the given element name passing the attribute filter, or the empty string
// when none matches. Absence of optional metadata is not an error.
func (e *Epub) getSingleton(name, attr string, values ...string) (string, error) {
	md, err := e.metadataElement()
	if err != nil {
		return "", err
	}
	for _, el := range metadataChildren(md, name) {
		if attrFilterMatch(el, attr, values) {
			return el.Text(), nil
		}
	}
	return "", nil
}

// setSingleton writes the metadata child with the given element name,
// honoring the attribute filter. With exactly one existing match the text is
// rewritten in place, or the node removed when value is the empty string.
// Otherwise all matches are removed and, for a non-empty value, one fresh
// node is created carrying the filter attribute set to the first candidate.
// The package document is reparsed afterward.
func (e *Epub) setSingleton(name, value, attr string, values ...string) error {
	md, err := e.metadataElement()
	if err != nil {
		return err
	}
	var matches []*etree.Element
	for _, el := range metadataChildren(md, name) {
		if attrFilterMatch(el, attr, values) {
			matches = append(matches, el)
		}
	}

	switch {
	case len(matches) == 1 && value != "":
		matches[0].SetText(value)
	case len(matches) == 1:
		wrapElement(matches[0]).Detach()
	default:
		for _, el := range matches {
			wrapElement(el).Detach()
		}
		if value != "" {
			child, err := wrapElement(md).NewChild(name, value)
			if err != nil {
				return err
			}
			if attr != "" && len(values) > 0 {
				if err := child.SetAttr(attr, values[0]); err != nil {
					return err
				}
			}
		}
	}
	return e.resync()
}

// Title returns the publication's title, or the empty string when none is
// declared.
func (e *Epub) Title() (string, error) {
	return e.getSingleton("dc:title", "")
}

// SetTitle writes the publication's title. An empty title removes the
// element.
func (e *Epub) SetTitle(title string) error {
	return e.setSingleton("dc:title", title, "")
}

// Titles returns all declared titles in document order.
func (e *Epub) Titles() ([]string, error) {
	md, err := e.metadataElement()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, el := range metadataChildren(md, "dc:title") {
		if t := strings.TrimSpace(el.Text()); t != "" {
			out = append(out, t)
		}
	}
	return out, nil
}

// Language returns the publication's declared language code.
func (e *Epub) Language() (string, error) {
	return e.getSingleton("dc:language", "")
}

// SetLanguage writes the publication's language code.
func (e *Epub) SetLanguage(lang string) error {
	return e.setSingleton("dc:language", lang, "")
}

// LanguageTag parses the declared language as a BCP 47 tag. An undeclared
// language yields language.Und without error.
func (e *Epub) LanguageTag() (language.Tag, error) {
	lang, err := e.Language()
	if err != nil {
		return language.Und, err
	}
	lang = strings.TrimSpace(lang)
	if lang == "" {
		return language.Und, nil
	}
	tag, err := language.Parse(lang)
	if err != nil {
		return language.Und, fmt.Errorf("epub: parse language %q: %s: %w", lang, err, ErrStructure)
	}
	return tag, nil
}

// Publisher returns the publication's publisher.
func (e *Epub) Publisher() (string, error) {
	return e.getSingleton("dc:publisher", "")
}

// SetPublisher writes the publication's publisher.
func (e *Epub) SetPublisher(publisher string) error {
	return e.setSingleton("dc:publisher", publisher, "")
}

// Copyright returns the publication's rights statement.
func (e *Epub) Copyright() (string, error) {
	return e.getSingleton("dc:rights", "")
}

// SetCopyright writes the publication's rights statement.
func (e *Epub) SetCopyright(rights string) error {
	return e.setSingleton("dc:rights", rights, "")
}

// Description returns the publication's description.
func (e *Epub) Description() (string, error) {
	return e.getSingleton("dc:description", "")
}

// SetDescription writes the publication's description.
func (e *Epub) SetDescription(description string) error {
	return e.setSingleton("dc:description", description, "")
}

// DescriptionHTML returns the description as sanitized HTML. A plain-text
// description is wrapped in paragraph tags; one that already carries markup
// is sanitized down to user-generated-content level.
func (e *Epub) DescriptionHTML() (string, error) {
	desc, err := e.Description()
	if err != nil || desc == "" {
		return "", err
	}
	stripped := bluemonday.StrictPolicy().Sanitize(desc)
	if stripped == desc {
		var sb strings.Builder
		for _, paragraph := range strings.Split(desc, "\n") {
			if strings.TrimSpace(paragraph) == "" {
				continue
			}
			sb.WriteString("<p>")
			sb.WriteString(paragraph)
			sb.WriteString("</p>")
		}
		return sb.String(), nil
	}
	return bluemonday.UGCPolicy().Sanitize(desc), nil
}

// Date returns the publication date.
func (e *Epub) Date() (string, error) {
	return e.getSingleton("dc:date", "")
}

// SetDate writes the publication date.
func (e *Epub) SetDate(date string) error {
	return e.setSingleton("dc:date", date, "")
}

// UniqueIdentifier returns the value of the identifier designated by the
// package's unique-identifier attribute, or the empty string when the
// attribute or the identifier is absent.
func (e *Epub) UniqueIdentifier() (string, error) {
	root := e.pkg.Root()
	if root == nil {
		return "", fmt.Errorf("epub: package document has no root element: %w", ErrStructure)
	}
	idref := root.SelectAttrValue("unique-identifier", "")
	if idref == "" {
		return "", nil
	}
	md, err := e.metadataElement()
	if err != nil {
		return "", err
	}
	for _, el := range metadataChildren(md, "dc:identifier") {
		if el.SelectAttrValue("id", "") == idref {
			return el.Text(), nil
		}
	}
	return "", nil
}

// SetUniqueIdentifier writes the designated unique identifier, creating the
// identifier element and the package's unique-identifier attribute when
// absent. An empty value removes both.
func (e *Epub) SetUniqueIdentifier(value string) error {
	root := e.pkg.Root()
	if root == nil {
		return fmt.Errorf("epub: package document has no root element: %w", ErrStructure)
	}
	md, err := e.metadataElement()
	if err != nil {
		return err
	}

	idref := root.SelectAttrValue("unique-identifier", "")
	var target *etree.Element
	if idref != "" {
		for _, el := range metadataChildren(md, "dc:identifier") {
			if el.SelectAttrValue("id", "") == idref {
				target = el
				break
			}
		}
	}

	if value == "" {
		if target != nil {
			wrapElement(target).Detach()
		}
		root.RemoveAttr("unique-identifier")
		return e.resync()
	}

	if idref == "" {
		idref = "pub-id"
		root.CreateAttr("unique-identifier", idref)
	}
	if target == nil {
		child, err := wrapElement(md).NewChild("dc:identifier", value)
		if err != nil {
			return err
		}
		if err := child.SetAttr("id", idref); err != nil {
			return err
		}
	} else {
		target.SetText(value)
	}
	return e.resync()
}

// GenerateUniqueIdentifier mints a fresh urn:uuid identifier, stores it as
// the designated unique identifier, and returns it.
func (e *Epub) GenerateUniqueIdentifier() (string, error) {
	id := "urn:uuid:" + uuid.NewString()
	if err := e.SetUniqueIdentifier(id); err != nil {
		return "", err
	}
	return id, nil
}

// Identifier returns the first identifier carrying one of the given schemes,
// compared case-insensitively. It falls back to scanning Identifiers for
// EPUB 3 packages that express schemes through refines metas or urn values.
func (e *Epub) Identifier(schemes ...string) (string, error) {
	if len(schemes) == 0 {
		return "", fmt.Errorf("epub: identifier needs at least one scheme: %w", ErrInvalidInput)
	}
	v, err := e.getSingleton("dc:identifier", "opf:scheme", schemes...)
	if err != nil || v != "" {
		return v, err
	}
	idents, err := e.Identifiers()
	if err != nil {
		return "", err
	}
	for _, ident := range idents {
		for _, scheme := range schemes {
			if strings.EqualFold(ident.Scheme, scheme) {
				return ident.Value, nil
			}
		}
	}
	return "", nil
}

// SetIdentifier writes the identifier with the given schemes. When no
// existing element matches, a fresh one is created with the first scheme.
func (e *Epub) SetIdentifier(value string, schemes ...string) error {
	if len(schemes) == 0 {
		return fmt.Errorf("epub: identifier needs at least one scheme: %w", ErrInvalidInput)
	}
	return e.setSingleton("dc:identifier", value, "opf:scheme", schemes...)
}

// UUID returns the publication's UUID identifier. Both "UUID" and "URN"
// scheme spellings are accepted.
func (e *Epub) UUID() (string, error) {
	return e.Identifier("UUID", "URN")
}

// SetUUID writes the publication's UUID identifier.
func (e *Epub) SetUUID(value string) error {
	return e.SetIdentifier(value, "UUID", "URN")
}

// URI returns the publication's URI identifier.
func (e *Epub) URI() (string, error) {
	return e.Identifier("URI")
}

// SetURI writes the publication's URI identifier.
func (e *Epub) SetURI(value string) error {
	return e.SetIdentifier(value, "URI")
}

// ISBN returns the publication's ISBN identifier.
func (e *Epub) ISBN() (string, error) {
	return e.Identifier("ISBN")
}

// SetISBN writes the publication's ISBN identifier.
func (e *Epub) SetISBN(value string) error {
	return e.SetIdentifier(value, "ISBN")
}

// Identifiers returns all declared identifiers in document order.
func (e *Epub) Identifiers() ([]Identifier, error) {
	md, err := e.metadataElement()
	if err != nil {
		return nil, err
	}
	refines := identifierTypeRefines(md)
	var out []Identifier
	for _, el := range metadataChildren(md, "dc:identifier") {
		ident := Identifier{
			Value: strings.TrimSpace(el.Text()),
			ID:    el.SelectAttrValue("id", ""),
		}
		ident.Scheme = attrLocalValue(el, "scheme")
		if ident.Scheme == "" && ident.ID != "" {
			ident.Scheme = refines[ident.ID]
		}
		if ident.Scheme == "" {
			ident.Scheme = schemeFromValue(ident.Value)
		}
		out = append(out, ident)
	}
	return out, nil
}

// identifierTypeRefines maps identifier element ids to the scheme declared
// by an EPUB 3 identifier-type refines meta.
func identifierTypeRefines(md *etree.Element) map[string]string {
	out := make(map[string]string)
	for _, meta := range metadataChildren(md, "meta") {
		if meta.SelectAttrValue("property", "") != "identifier-type" {
			continue
		}
		target := strings.TrimPrefix(meta.SelectAttrValue("refines", ""), "#")
		if target == "" {
			continue
		}
		out[target] = strings.TrimSpace(meta.Text())
	}
	return out
}

// schemeFromValue guesses an identifier scheme from well-known value
// prefixes.
func schemeFromValue(v string) string {
	lower := strings.ToLower(v)
	switch {
	case strings.HasPrefix(lower, "urn:uuid:"):
		return "uuid"
	case strings.HasPrefix(lower, "urn:isbn:"):
		return "isbn"
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return "uri"
	}
	return ""
}

// Authors returns the publication's creators in document order. The sort
// key and role come from the creator's attributes or, for EPUB 3 packages,
// from refines metas; the sort key defaults to the display name.
func (e *Epub) Authors() ([]Author, error) {
	md, err := e.metadataElement()
	if err != nil {
		return nil, err
	}
	fileAs, roles := creatorRefines(md)
	var out []Author
	for _, el := range metadataChildren(md, "dc:creator") {
		name := strings.TrimSpace(el.Text())
		if name == "" {
			continue
		}
		a := Author{
			Name:   name,
			FileAs: attrLocalValue(el, "file-as"),
			Role:   attrLocalValue(el, "role"),
		}
		if id := el.SelectAttrValue("id", ""); id != "" {
			if a.FileAs == "" {
				a.FileAs = fileAs[id]
			}
			if a.Role == "" {
				a.Role = roles[id]
			}
		}
		if a.FileAs == "" {
			a.FileAs = name
		}
		out = append(out, a)
	}
	return out, nil
}

// SetAuthors replaces all creators with the given ones, written in the
// attribute form. Refines metas of removed creators are cleaned up so no
// dangling references survive. An empty sort key defaults to the display
// name and an empty role to "aut".
func (e *Epub) SetAuthors(authors []Author) error {
	md, err := e.metadataElement()
	if err != nil {
		return err
	}

	removed := make(map[string]bool)
	for _, el := range metadataChildren(md, "dc:creator") {
		if id := el.SelectAttrValue("id", ""); id != "" {
			removed[id] = true
		}
		wrapElement(el).Detach()
	}
	if len(removed) > 0 {
		for _, meta := range metadataChildren(md, "meta") {
			target := strings.TrimPrefix(meta.SelectAttrValue("refines", ""), "#")
			if target != "" && removed[target] {
				wrapElement(meta).Detach()
			}
		}
	}

	for _, a := range authors {
		name := strings.TrimSpace(a.Name)
		if name == "" {
			continue
		}
		child, err := wrapElement(md).NewChild("dc:creator", name)
		if err != nil {
			return err
		}
		fileAs := strings.TrimSpace(a.FileAs)
		if fileAs == "" {
			fileAs = name
		}
		if err := child.SetAttr("opf:file-as", fileAs); err != nil {
			return err
		}
		role := strings.TrimSpace(a.Role)
		if role == "" {
			role = "aut"
		}
		if err := child.SetAttr("opf:role", role); err != nil {
			return err
		}
	}
	return e.resync()
}

// SetAuthorsFromString replaces all creators from a comma-delimited string
// of display names.
func (e *Epub) SetAuthorsFromString(s string) error {
	var authors []Author
	for _, piece := range strings.Split(s, ",") {
		name := strings.TrimSpace(piece)
		if name == "" {
			continue
		}
		authors = append(authors, Author{Name: name})
	}
	return e.SetAuthors(authors)
}

// creatorRefines maps creator element ids to the sort keys and roles
// declared by EPUB 3 refines metas.
func creatorRefines(md *etree.Element) (fileAs, roles map[string]string) {
	fileAs = make(map[string]string)
	roles = make(map[string]string)
	for _, meta := range metadataChildren(md, "meta") {
		target := strings.TrimPrefix(meta.SelectAttrValue("refines", ""), "#")
		if target == "" {
			continue
		}
		switch meta.SelectAttrValue("property", "") {
		case "file-as":
			fileAs[target] = strings.TrimSpace(meta.Text())
		case "role":
			roles[target] = strings.TrimSpace(meta.Text())
		}
	}
	return fileAs, roles
}

// Subjects returns the publication's subjects in document order.
func (e *Epub) Subjects() ([]string, error) {
	md, err := e.metadataElement()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, el := range metadataChildren(md, "dc:subject") {
		if s := strings.TrimSpace(el.Text()); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

// SetSubjects replaces all subjects with the given ordered list.
func (e *Epub) SetSubjects(subjects []string) error {
	md, err := e.metadataElement()
	if err != nil {
		return err
	}
	for _, el := range metadataChildren(md, "dc:subject") {
		wrapElement(el).Detach()
	}
	for _, s := range subjects {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, err := wrapElement(md).NewChild("dc:subject", s); err != nil {
			return err
		}
	}
	return e.resync()
}

// SetSubjectsFromString replaces all subjects from a comma-delimited string.
func (e *Epub) SetSubjectsFromString(s string) error {
	var subjects []string
	for _, piece := range strings.Split(s, ",") {
		subjects = append(subjects, piece)
	}
	return e.SetSubjects(subjects)
}
