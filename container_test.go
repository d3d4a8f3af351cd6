package epub

import (
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"
)

// newContainerProbe builds a bare Epub around a ZIP so container resolution
// can be tested without the rest of the open pipeline.
func newContainerProbe(t *testing.T, files map[string]string) *Epub {
	t.Helper()

	e := &Epub{zip: buildTestZip(t, files), log: zap.NewNop()}
	e.buildZipIndex()
	return e
}

func TestParseContainer(t *testing.T) {
	e := newContainerProbe(t, map[string]string{
		"META-INF/container.xml": validContainerXML,
	})

	got, err := e.parseContainer()
	if err != nil {
		t.Fatalf("parseContainer() error = %v", err)
	}
	if got != "OEBPS/content.opf" {
		t.Errorf("parseContainer() = %q, want %q", got, "OEBPS/content.opf")
	}
}

func TestParseContainer_CaseInsensitiveEntry(t *testing.T) {
	e := newContainerProbe(t, map[string]string{
		"meta-inf/CONTAINER.XML": validContainerXML,
	})

	got, err := e.parseContainer()
	if err != nil {
		t.Fatalf("parseContainer() error = %v", err)
	}
	if got != "OEBPS/content.opf" {
		t.Errorf("parseContainer() = %q, want %q", got, "OEBPS/content.opf")
	}
}

func TestParseContainer_BOM(t *testing.T) {
	e := newContainerProbe(t, map[string]string{
		"META-INF/container.xml": "\xef\xbb\xbf" + validContainerXML,
	})

	got, err := e.parseContainer()
	if err != nil {
		t.Fatalf("parseContainer() error = %v", err)
	}
	if got != "OEBPS/content.opf" {
		t.Errorf("parseContainer() = %q, want %q", got, "OEBPS/content.opf")
	}
}

func TestParseContainer_PrefersPackageMediaType(t *testing.T) {
	const container = `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="extras/renditions.xml" media-type="text/xml"/>
    <rootfile full-path="EPUB/package.opf" media-type="APPLICATION/OEBPS-PACKAGE+XML"/>
  </rootfiles>
</container>`
	e := newContainerProbe(t, map[string]string{
		"META-INF/container.xml": container,
	})

	got, err := e.parseContainer()
	if err != nil {
		t.Fatalf("parseContainer() error = %v", err)
	}
	if got != "EPUB/package.opf" {
		t.Errorf("parseContainer() = %q, want %q", got, "EPUB/package.opf")
	}
}

func TestParseContainer_FirstNonEmptyFallback(t *testing.T) {
	// No rootfile carries the package media type, so the first non-empty
	// full-path wins.
	const container = `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="" media-type="text/xml"/>
    <rootfile full-path="EPUB/package.opf" media-type="text/xml"/>
  </rootfiles>
</container>`
	e := newContainerProbe(t, map[string]string{
		"META-INF/container.xml": container,
	})

	got, err := e.parseContainer()
	if err != nil {
		t.Fatalf("parseContainer() error = %v", err)
	}
	if got != "EPUB/package.opf" {
		t.Errorf("parseContainer() = %q, want %q", got, "EPUB/package.opf")
	}
}

func TestParseContainer_NoRootfiles(t *testing.T) {
	const container = `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles/>
</container>`
	e := newContainerProbe(t, map[string]string{
		"META-INF/container.xml": container,
	})

	_, err := e.parseContainer()
	if !errors.Is(err, ErrStructure) {
		t.Fatalf("parseContainer() error = %v, want wrapped ErrStructure", err)
	}
	if !strings.Contains(err.Error(), "no rootfile entries") {
		t.Errorf("error = %q, want mention of missing rootfile entries", err)
	}
}

func TestParseContainer_EmptyFullPath(t *testing.T) {
	const container = `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="   " media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`
	e := newContainerProbe(t, map[string]string{
		"META-INF/container.xml": container,
	})

	_, err := e.parseContainer()
	if !errors.Is(err, ErrStructure) {
		t.Fatalf("parseContainer() error = %v, want wrapped ErrStructure", err)
	}
	if !strings.Contains(err.Error(), "empty full-path") {
		t.Errorf("error = %q, want mention of empty full-path", err)
	}
}

func TestParseContainer_Malformed(t *testing.T) {
	e := newContainerProbe(t, map[string]string{
		"META-INF/container.xml": "<container><rootfiles",
	})

	_, err := e.parseContainer()
	if !errors.Is(err, ErrStructure) {
		t.Fatalf("parseContainer() error = %v, want wrapped ErrStructure", err)
	}
	if !strings.Contains(err.Error(), "parse container.xml") {
		t.Errorf("error = %q, want a parse failure", err)
	}
}

func TestParseContainer_FallbackOPFScan(t *testing.T) {
	e := newContainerProbe(t, map[string]string{
		"mimetype":          "application/epub+zip",
		"content/BOOK.OPF":  "<package/>",
		"content/style.css": "body {}",
	})

	got, err := e.parseContainer()
	if err != nil {
		t.Fatalf("parseContainer() error = %v", err)
	}
	if got != "content/BOOK.OPF" {
		t.Errorf("parseContainer() = %q, want %q", got, "content/BOOK.OPF")
	}
}

func TestParseContainer_NothingFound(t *testing.T) {
	e := newContainerProbe(t, map[string]string{
		"mimetype": "application/epub+zip",
	})

	_, err := e.parseContainer()
	if !errors.Is(err, ErrStructure) {
		t.Fatalf("parseContainer() error = %v, want wrapped ErrStructure", err)
	}
	if !strings.Contains(err.Error(), containerFile) {
		t.Errorf("error = %q, want mention of %s", err, containerFile)
	}
}
