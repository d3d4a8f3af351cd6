package epub

import (
	"archive/zip"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// maxDecompressSize is the maximum allowed decompressed size for a single ZIP
// entry. This guards against zip bomb attacks. Defaults to 256 MB.
const maxDecompressSize int64 = 256 * 1024 * 1024

// resolveRelativePath resolves href relative to the directory of basePath.
// Both basePath and href are ZIP-internal paths (forward-slash separated).
// The result is cleaned and validated to stay within the ZIP root.
// If the resolved path escapes root or is absolute, an empty string is returned.
func resolveRelativePath(basePath, href string) string {
	href = strings.TrimSpace(href)
	if strings.HasPrefix(href, "/") {
		return ""
	}
	if decoded, err := url.PathUnescape(href); err == nil {
		href = decoded
	}
	dir := path.Dir(basePath)
	joined := path.Join(dir, href)
	cleaned := path.Clean(joined)
	if !isSafePath(cleaned) {
		return ""
	}
	return cleaned
}

// isSafePath checks whether p is a safe ZIP-internal path that does not
// escape the archive root via path traversal (e.g., "../../../etc/passwd").
func isSafePath(p string) bool {
	cleaned := path.Clean(p)
	if strings.HasPrefix(cleaned, "/") {
		return false
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return false
	}
	return true
}

// stripBOM removes a leading UTF-8 BOM (0xEF 0xBB 0xBF) from data, if present.
func stripBOM(data []byte) []byte {
	if len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
		return data[3:]
	}
	return data
}

// readZipFile reads the full contents of a ZIP entry.
// It enforces maxDecompressSize to guard against zip bombs and validates
// that the entry path is safe (no path traversal).
func readZipFile(f *zip.File) ([]byte, error) {
	return readZipFileWithLimit(f, maxDecompressSize)
}

// readZipFileWithLimit is the implementation of readZipFile with a configurable
// size limit. It is separated to allow tests to use a smaller limit.
func readZipFileWithLimit(f *zip.File, limit int64) ([]byte, error) {
	if !isSafePath(f.Name) {
		return nil, fmt.Errorf("epub: unsafe zip entry path: %s", f.Name)
	}

	if f.UncompressedSize64 > uint64(limit) {
		return nil, fmt.Errorf("epub: zip entry %s too large: %d bytes (max %d)", f.Name, f.UncompressedSize64, limit)
	}

	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("epub: open zip entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	// Read up to limit+1 to detect if the actual decompressed data
	// exceeds the limit (the declared size might be wrong/forged).
	lr := io.LimitReader(rc, limit+1)
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, fmt.Errorf("epub: read zip entry %s: %w", f.Name, err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("epub: zip entry %s decompressed size exceeds limit (%d bytes)", f.Name, limit)
	}

	return data, nil
}

// buildZipIndex indexes archive members for exact and case-insensitive
// lookup. The first entry wins when an archive contains duplicate names.
func (e *Epub) buildZipIndex() {
	e.zipExact = make(map[string]*zip.File, len(e.zip.File))
	e.zipLower = make(map[string]*zip.File, len(e.zip.File))
	for _, f := range e.zip.File {
		if _, ok := e.zipExact[f.Name]; !ok {
			e.zipExact[f.Name] = f
		}
		lower := strings.ToLower(f.Name)
		if _, ok := e.zipLower[lower]; !ok {
			e.zipLower[lower] = f
		}
	}
}

// findFile looks up an archive member by ZIP-internal path, first trying an
// exact match, then falling back to a case-insensitive comparison.
// Returns nil if no match is found.
func (e *Epub) findFile(name string) *zip.File {
	if f, ok := e.zipExact[name]; ok {
		return f
	}
	return e.zipLower[strings.ToLower(name)]
}

// readMember returns the contents of the archive member at the given
// ZIP-internal path. Staged writes shadow the underlying archive and
// deleted members read as missing.
func (e *Epub) readMember(name string) ([]byte, error) {
	if e.deleted[name] {
		return nil, fmt.Errorf("epub: %s: %w", name, ErrFileNotFound)
	}
	if data, ok := e.staged[name]; ok {
		return data, nil
	}
	f := e.findFile(name)
	if f == nil {
		return nil, fmt.Errorf("epub: %s: %w", name, ErrFileNotFound)
	}
	data, err := readZipFile(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", err, ErrIO)
	}
	return data, nil
}

// stageMember records new contents for an archive member. The write becomes
// part of the archive on the next Save, SaveTo or WriteTo.
func (e *Epub) stageMember(name string, data []byte) {
	delete(e.deleted, name)
	e.staged[name] = data
}

// deleteMember marks an archive member as removed.
func (e *Epub) deleteMember(name string) {
	delete(e.staged, name)
	e.deleted[name] = true
}

// Save writes the archive back to the file it was opened from.
// It fails when the Epub was constructed from a reader instead of a file.
func (e *Epub) Save() error {
	if e.path == "" {
		return fmt.Errorf("epub: no backing file to save to: %w", ErrInvalidInput)
	}
	return e.SaveTo(e.path)
}

// SaveTo writes the archive to filename. The file is written to a temporary
// sibling first and moved into place, so a failed save never truncates an
// existing file.
func (e *Epub) SaveTo(filename string) error {
	dir := filepath.Dir(filename)
	tmp, err := os.CreateTemp(dir, ".epub-save-*")
	if err != nil {
		return fmt.Errorf("epub: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := e.WriteTo(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("epub: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, filename); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("epub: replace %s: %w", filename, err)
	}
	e.log.Debug("saved archive", zap.String("path", filename))
	return nil
}

// WriteTo serializes the archive to w. It implements io.WriterTo.
func (e *Epub) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	err := e.writeArchive(cw)
	return cw.n, err
}

// writeArchive writes a complete EPUB container: the canonical mimetype entry
// first and uncompressed, untouched members raw-copied in their original
// order, the package document re-serialized from the live DOM, and staged
// members last in sorted order for deterministic output.
func (e *Epub) writeArchive(w io.Writer) error {
	opf, err := e.packageBytes()
	if err != nil {
		return err
	}

	zw := zip.NewWriter(w)

	hdr := &zip.FileHeader{Name: mimetypeFile, Method: zip.Store}
	mw, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("epub: write mimetype: %w", err)
	}
	if _, err := mw.Write([]byte(mimetypeEPub)); err != nil {
		return fmt.Errorf("epub: write mimetype: %w", err)
	}

	written := map[string]bool{mimetypeFile: true}
	for _, f := range e.zip.File {
		name := f.Name
		if name == mimetypeFile || name == e.opfPath || e.deleted[name] || written[name] {
			continue
		}
		if _, ok := e.staged[name]; ok {
			continue
		}
		if err := zw.Copy(f); err != nil {
			return fmt.Errorf("epub: copy zip entry %s: %w", name, err)
		}
		written[name] = true
	}

	pw, err := zw.Create(e.opfPath)
	if err != nil {
		return fmt.Errorf("epub: write package document: %w", err)
	}
	if _, err := pw.Write(opf); err != nil {
		return fmt.Errorf("epub: write package document: %w", err)
	}

	names := make([]string, 0, len(e.staged))
	for name := range e.staged {
		if name == e.opfPath || e.deleted[name] {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fw, err := zw.Create(name)
		if err != nil {
			return fmt.Errorf("epub: write zip entry %s: %w", name, err)
		}
		if _, err := fw.Write(e.staged[name]); err != nil {
			return fmt.Errorf("epub: write zip entry %s: %w", name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("epub: finalize archive: %w", err)
	}
	return nil
}

// packageBytes serializes the package document with stable two-space
// indentation. It works on a copy so the live DOM keeps the exact token
// layout that queries and child indexes were computed against.
func (e *Epub) packageBytes() ([]byte, error) {
	doc := e.pkg.Copy()
	doc.Indent(2)
	data, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("epub: serialize package document: %w", err)
	}
	return data, nil
}

// countingWriter counts bytes written through it for WriteTo.
type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}
