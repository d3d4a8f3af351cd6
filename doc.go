// Package epub provides a pure-Go library for reading and editing ePub 2 and ePub 3 files.
//
// It parses the package document (OPF), manifest, spine, and table of contents
// (NCX and Nav), exposes Dublin Core metadata through typed get/set accessors,
// extracts plain text or lightly marked-up text from content documents, and
// manages the cover image and an optional generated title page. Edits are
// staged in memory and written back with [Epub.Save], [Epub.SaveTo], or
// [Epub.WriteTo]. DRM-protected files are detected and rejected with
// [ErrDRMProtected].
//
// # Opening an ePub
//
// Use [Open] to open a file by path, or [NewReader] to read from an [io.ReaderAt]:
//
//	book, err := epub.Open("book.epub")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer book.Close()
//
// # Metadata
//
// Metadata fields have paired accessors. Getters return the empty string when
// the field is absent; setting the empty string removes the element:
//
//	title, _ := book.Title()
//	book.SetTitle("Romeo and Juliet")
//	book.SetAuthorsFromString("William Shakespeare")
//	isbn, _ := book.ISBN()
//
// Every mutation rewrites the in-memory package document and reparses it, so
// subsequent reads always observe the updated state.
//
// # Contents
//
// [Epub.Contents] concatenates the text of all spine documents in reading
// order. [Epub.ItemContents] extracts a single manifest item, and
// [Epub.ItemFragment] a range between two element ids. Pass keepMarkup=true
// to retain a small allow-list of structural tags instead of plain text:
//
//	text, err := book.Contents(false)
//	frag, err := book.ItemFragment("chap1", "pgepubid00003", "pgepubid00004", true)
//
// # Cover Image
//
// [Epub.Cover] attempts multiple strategies (ePub 3 properties, ePub 2 meta,
// guide reference, manifest heuristic, first spine item) to locate the cover.
// [Epub.SetCover] installs a new one, and [Epub.AddCoverImageTitlePage]
// generates an XHTML title page and prepends it to the spine:
//
//	cover, err := book.Cover()
//	if err == nil {
//	    os.WriteFile("cover.jpg", cover.Data, 0644)
//	}
//	book.SetCover("cover.jpg", "image/jpeg")
//
// # Saving
//
// [Epub.Save] rewrites the file opened with [Open]; [Epub.SaveTo] writes to a
// new path. Untouched archive members are copied through without
// recompression, the package document is reserialized, and the mimetype entry
// is always written first and uncompressed.
//
// # Error Handling
//
// The package defines sentinel errors for common failure cases:
//   - [ErrIO] – the file cannot be read, or is not a ZIP archive
//   - [ErrStructure] – required ePub structure is missing or malformed
//   - [ErrNotFound] – a requested element or fragment does not exist
//   - [ErrInvalidInput] – an argument is invalid
//   - [ErrNamespace] – an unknown namespace prefix was used
//   - [ErrDRMProtected] – the file is DRM encrypted
//   - [ErrFileNotFound] – a requested file is not in the archive
//   - [ErrNoCover] – no cover image could be detected
//
// All errors returned by the package can be tested with [errors.Is].
package epub
