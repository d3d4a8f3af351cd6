package epub

import (
	"archive/zip"
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"
)

// buildTestZip creates an in-memory ZIP archive from the provided files map
// (path → content) and returns a *zip.Reader over the resulting bytes.
// It calls t.Fatal on any error.
func buildTestZip(t *testing.T, files map[string]string) *zip.Reader {
	t.Helper()
	data := buildTestEPubBytes(t, files)
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("buildTestZip: open reader: %v", err)
	}
	return r
}

// buildTestEPubBytes creates an in-memory ePub (ZIP) archive and returns the
// raw bytes. The mimetype entry, when present, is written first and stored
// uncompressed, matching the OCF container layout.
func buildTestEPubBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)
	if mt, ok := files["mimetype"]; ok {
		hdr := &zip.FileHeader{Name: "mimetype", Method: zip.Store}
		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			t.Fatalf("buildTestEPubBytes: create mimetype: %v", err)
		}
		if _, err := io.WriteString(fw, mt); err != nil {
			t.Fatalf("buildTestEPubBytes: write mimetype: %v", err)
		}
	}
	for name, content := range files {
		if name == "mimetype" {
			continue
		}
		fw, err := zw.Create(name)
		if err != nil {
			t.Fatalf("buildTestEPubBytes: create %s: %v", name, err)
		}
		if _, err := io.WriteString(fw, content); err != nil {
			t.Fatalf("buildTestEPubBytes: write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("buildTestEPubBytes: close: %v", err)
	}
	return buf.Bytes()
}

// buildTestEPubFile writes an ePub archive to a temporary file and returns
// the file path. This variant is useful for testing Open() and Save() which
// require a file path.
func buildTestEPubFile(t *testing.T, files map[string]string) string {
	t.Helper()
	fp := filepath.Join(t.TempDir(), "test.epub")
	if err := os.WriteFile(fp, buildTestEPubBytes(t, files), 0644); err != nil {
		t.Fatalf("buildTestEPubFile: write file: %v", err)
	}
	return fp
}

// newTestBook opens an in-memory book built from the files map and registers
// cleanup. Diagnostics go to the test log.
func newTestBook(t *testing.T, files map[string]string) *Epub {
	t.Helper()
	data := buildTestEPubBytes(t, files)
	book, err := NewReader(bytes.NewReader(data), int64(len(data)),
		WithLogger(zaptest.NewLogger(t)))
	if err != nil {
		t.Fatalf("NewReader() error = %v", err)
	}
	t.Cleanup(func() { book.Close() })
	return book
}

// validContainerXML is a well-formed META-INF/container.xml pointing to an OPF.
const validContainerXML = `<?xml version="1.0" encoding="UTF-8"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`

// minimalOPF is the smallest package document the loader accepts: metadata,
// a manifest with an NCX and one chapter, and a spine referencing both.
const minimalOPF = `<?xml version="1.0" encoding="UTF-8"?>
<package version="2.0" xmlns="http://www.idpf.org/2007/opf" unique-identifier="bookid">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:opf="http://www.idpf.org/2007/opf">
    <dc:title>Minimal Book</dc:title>
    <dc:language>en</dc:language>
    <dc:identifier id="bookid" opf:scheme="UUID">urn:uuid:11111111-2222-3333-4444-555555555555</dc:identifier>
  </metadata>
  <manifest>
    <item id="ncx" href="toc.ncx" media-type="application/x-dtbncx+xml"/>
    <item id="chap1" href="chapter1.xhtml" media-type="application/xhtml+xml"/>
  </manifest>
  <spine toc="ncx">
    <itemref idref="chap1"/>
  </spine>
</package>`

const minimalNCX = `<?xml version="1.0" encoding="UTF-8"?>
<ncx xmlns="http://www.daisy.org/z3986/2005/ncx/" version="2005-1">
  <docTitle><text>Minimal Book</text></docTitle>
  <navMap>
    <navPoint id="np1" playOrder="1">
      <navLabel><text>Chapter 1</text></navLabel>
      <content src="chapter1.xhtml"/>
    </navPoint>
  </navMap>
</ncx>`

// emptyNavNCX is an NCX with an empty navMap, for fixtures whose manifest
// does not include the files a populated navMap would reference.
const emptyNavNCX = `<?xml version="1.0" encoding="UTF-8"?>
<ncx xmlns="http://www.daisy.org/z3986/2005/ncx/" version="2005-1">
  <docTitle><text>Test Book</text></docTitle>
  <navMap/>
</ncx>`

const minimalChapterXHTML = `<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml">
<head><title>Chapter 1</title></head>
<body><h1>Chapter 1</h1><p>Hello chapter one.</p></body>
</html>`

// minimalBookFiles returns the file set of a complete minimal ePub 2 book.
func minimalBookFiles() map[string]string {
	return map[string]string{
		"mimetype":               "application/epub+zip",
		"META-INF/container.xml": validContainerXML,
		"OEBPS/content.opf":      minimalOPF,
		"OEBPS/toc.ncx":          minimalNCX,
		"OEBPS/chapter1.xhtml":   minimalChapterXHTML,
	}
}

// bookOPF builds an OPF with the given metadata, manifest, spine, and guide
// fragments inserted. The NCX item and the spine toc attribute are always
// present so the result loads.
func bookOPF(meta, manifest, spine, guide string) string {
	opf := `<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="2.0" unique-identifier="bookid">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:opf="http://www.idpf.org/2007/opf">` + meta + `</metadata>
  <manifest>
    <item id="ncx" href="toc.ncx" media-type="application/x-dtbncx+xml"/>` + manifest + `
  </manifest>
  <spine toc="ncx">` + spine + `</spine>`
	if guide != "" {
		opf += `
  <guide>` + guide + `</guide>`
	}
	return opf + `
</package>`
}

// bookFiles returns a complete ePub file set around the given OPF, with any
// extra files merged in.
func bookFiles(opf string, extra map[string]string) map[string]string {
	files := map[string]string{
		"mimetype":               "application/epub+zip",
		"META-INF/container.xml": validContainerXML,
		"OEBPS/content.opf":      opf,
		"OEBPS/toc.ncx":          emptyNavNCX,
	}
	for k, v := range extra {
		files[k] = v
	}
	return files
}

// tinyPNG returns a valid PNG image of the given dimensions, for cover and
// thumbnail tests that need decodable image data.
func tinyPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	fill := color.RGBA{R: 200, G: 30, B: 30, A: 255}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, fill)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("tinyPNG: encode: %v", err)
	}
	return buf.Bytes()
}

var romanActs = [5]string{"I", "II", "III", "IV", "V"}

// romeoSceneCounts is the number of scene documents per act in the fixture.
var romeoSceneCounts = [5]int{5, 5, 5, 5, 3}

// romeoBookFiles builds a full-size fixture book: a play with a title page,
// dramatis personae, prologue, and five acts of scenes. The spine holds 31
// documents and the NCX 8 top-level navPoints with the act/scene hierarchy
// nested beneath them.
func romeoBookFiles() map[string]string {
	page := func(title, body string) string {
		return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml">
<head><title>%s</title></head>
<body>%s</body>
</html>`, title, body)
	}

	files := map[string]string{
		"mimetype":               "application/epub+zip",
		"META-INF/container.xml": validContainerXML,
	}

	var manifest, spine, navMap strings.Builder
	manifest.WriteString("\n    <item id=\"ncx\" href=\"toc.ncx\" media-type=\"application/x-dtbncx+xml\"/>")

	addDoc := func(id, href, title, body string) {
		fmt.Fprintf(&manifest, "\n    <item id=%q href=%q media-type=\"application/xhtml+xml\"/>", id, href)
		fmt.Fprintf(&spine, "\n    <itemref idref=%q/>", id)
		files["OEBPS/"+href] = page(title, body)
	}

	playOrder := 0
	openPoint := func(indent, id, class, label, src string) {
		playOrder++
		fmt.Fprintf(&navMap, "\n%s<navPoint id=%q class=%q playOrder=\"%d\">", indent, id, class, playOrder)
		fmt.Fprintf(&navMap, "<navLabel><text>%s</text></navLabel><content src=%q/>", label, src)
	}
	closePoint := func() {
		navMap.WriteString("</navPoint>")
	}

	addDoc("title", "title.xhtml", "Romeo and Juliet",
		`<h1 id="titleheading">Romeo and Juliet</h1>`)
	openPoint("    ", "np-title", "titlepage", "Title Page", "title.xhtml")
	closePoint()

	addDoc("personae", "personae.xhtml", "Dramatis Personae",
		`<h2>Dramatis Personae</h2><p>Escalus, Prince of Verona.</p><p>Romeo, son to Montague.</p><p>Juliet, daughter to Capulet.</p>`)
	openPoint("    ", "np-personae", "frontmatter", "Dramatis Personae", "personae.xhtml")
	closePoint()

	addDoc("prologue", "prologue.xhtml", "Prologue",
		`<h2>Prologue</h2><p id="chorus-start">Two households, both alike in dignity,</p><p>In fair Verona, where we lay our scene,</p><p>From ancient grudge break to new mutiny,</p><p id="chorus-end">Where civil blood makes civil hands unclean.</p>`)
	openPoint("    ", "np-prologue", "chapter", "Prologue", "prologue.xhtml")
	closePoint()

	for act := 1; act <= 5; act++ {
		numeral := romanActs[act-1]
		actID := fmt.Sprintf("act%d", act)
		addDoc(actID, actID+".xhtml", "Act "+numeral,
			fmt.Sprintf(`<h1>Act %s</h1>`, numeral))
		openPoint("    ", "np-"+actID, "act", "Act "+numeral, actID+".xhtml")
		for scene := 1; scene <= romeoSceneCounts[act-1]; scene++ {
			sceneID := fmt.Sprintf("act%d-scene%d", act, scene)
			label := fmt.Sprintf("Act %s, Scene %d", numeral, scene)
			addDoc(sceneID, sceneID+".xhtml", label,
				fmt.Sprintf(`<h2 id="sceneheading">%s</h2><p>Enter the players for scene %d of act %s.</p><p>They speak, and the action moves on.</p>`, label, scene, numeral))
			openPoint("      ", "np-"+sceneID, "scene", label, sceneID+".xhtml")
			closePoint()
		}
		closePoint()
	}

	files["OEBPS/content.opf"] = fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<package version="2.0" xmlns="http://www.idpf.org/2007/opf" unique-identifier="bookid">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:opf="http://www.idpf.org/2007/opf">
    <dc:title>Romeo and Juliet</dc:title>
    <dc:creator opf:file-as="Shakespeare, William" opf:role="aut">William Shakespeare</dc:creator>
    <dc:language>en</dc:language>
    <dc:identifier id="bookid" opf:scheme="UUID">urn:uuid:e6a8f967-5f54-4b41-9cfb-1c7a83a9ba2e</dc:identifier>
    <dc:publisher>Public Domain Press</dc:publisher>
    <dc:date>1597-01-01</dc:date>
  </metadata>
  <manifest>%s
  </manifest>
  <spine toc="ncx">%s
  </spine>
</package>`, manifest.String(), spine.String())

	files["OEBPS/toc.ncx"] = fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<ncx xmlns="http://www.daisy.org/z3986/2005/ncx/" version="2005-1">
  <docTitle><text>Romeo and Juliet</text></docTitle>
  <docAuthor><text>William Shakespeare</text></docAuthor>
  <navMap>%s
  </navMap>
</ncx>`, navMap.String())

	return files
}
