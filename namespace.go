package epub

import (
	"fmt"
	"strings"
)

// XML namespace URIs fixed by the EPUB family of specifications.
const (
	nsXML       = "http://www.w3.org/XML/1998/namespace"
	nsOPF       = "http://www.idpf.org/2007/opf"
	nsDC        = "http://purl.org/dc/elements/1.1/"
	nsDCTerms   = "http://purl.org/dc/terms/"
	nsContainer = "urn:oasis:names:tc:opendocument:xmlns:container"
	nsXHTML     = "http://www.w3.org/1999/xhtml"
	nsNCX       = "http://www.daisy.org/z3986/2005/ncx/"
	nsEPUB      = "http://www.idpf.org/2007/ops"
)

// namespaces maps short prefixes to their namespace URIs. The table is
// never mutated at runtime.
var namespaces = map[string]string{
	"xml":       nsXML,
	"opf":       nsOPF,
	"dc":        nsDC,
	"dcterms":   nsDCTerms,
	"container": nsContainer,
	"xhtml":     nsXHTML,
	"ncx":       nsNCX,
	"epub":      nsEPUB,
}

// resolvePrefix returns the namespace URI registered for prefix.
func resolvePrefix(prefix string) (string, error) {
	uri, ok := namespaces[prefix]
	if !ok {
		return "", fmt.Errorf("epub: namespace prefix %q: %w", prefix, ErrNamespace)
	}
	return uri, nil
}

// splitQName splits a qualified name of the form "prefix:local" on the
// first colon. Names without a colon have an empty prefix.
func splitQName(qname string) (prefix, local string) {
	if i := strings.Index(qname, ":"); i >= 0 {
		return qname[:i], qname[i+1:]
	}
	return "", qname
}
