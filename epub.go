package epub

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"

	"github.com/beevik/etree"
	"go.uber.org/zap"
)

// mimetypeFile is the required first entry of an ePub archive and
// mimetypeEPub its required content.
const (
	mimetypeFile = "mimetype"
	mimetypeEPub = "application/epub+zip"
)

// Epub is the main public API type for reading and editing ePub files.
// Use Open or NewReader to create an instance.
//
// The package document is the single source of truth: every mutator
// reserializes and reparses it before returning, and the derived Manifest,
// Spine, and Toc views are dropped and rebuilt lazily afterward. Edits to
// archive members (cover image, title page) are staged in memory and only
// reach the archive on Save, SaveTo, or WriteTo.
//
// An Epub is not safe for concurrent use by multiple goroutines.
type Epub struct {
	path   string
	zip    *zip.Reader
	closer io.Closer // non-nil only when created via Open

	zipExact map[string]*zip.File // exact-match ZIP file index
	zipLower map[string]*zip.File // lowercase ZIP file index

	opfPath string
	opfDir  string
	pkg     *etree.Document

	// staged and deleted overlay the underlying archive until the next save.
	staged  map[string][]byte
	deleted map[string]bool

	// Derived views of the package document. Nil after a mutation; rebuilt
	// lazily by the accessors.
	manifest *Manifest
	spine    *Spine
	toc      *Toc

	log *zap.Logger
}

// Option configures an Epub instance.
type Option func(*Epub)

// WithLogger routes the library's diagnostics to the given logger.
// The default discards them.
func WithLogger(log *zap.Logger) Option {
	return func(e *Epub) {
		if log != nil {
			e.log = log
		}
	}
}

// Open opens the ePub file at the given path for reading and editing.
// The caller must call Close when done.
func Open(name string, opts ...Option) (*Epub, error) {
	f, err := os.Open(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("epub: file not found: %s: %w", name, ErrIO)
		}
		return nil, fmt.Errorf("epub: open %s: %s: %w", name, err, ErrIO)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("epub: stat %s: %s: %w", name, err, ErrIO)
	}
	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		f.Close()
		return nil, wrapZipError(name, err)
	}

	e, err := initEpub(zr, f, name, opts)
	if err != nil {
		f.Close()
		return nil, err
	}
	return e, nil
}

// NewReader creates an Epub from an io.ReaderAt with the given size.
// The caller is responsible for the lifetime of r; Close only cleans up
// internal state. Save is unavailable without a backing file; use SaveTo
// or WriteTo instead.
func NewReader(r io.ReaderAt, size int64, opts ...Option) (*Epub, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, wrapZipError("", err)
	}
	return initEpub(zr, nil, "", opts)
}

// wrapZipError maps archive/zip failures onto the IO error taxonomy:
// not-an-archive and corrupt-archive are distinguished, everything else
// falls back to a generic read failure.
func wrapZipError(name string, err error) error {
	where := name
	if where == "" {
		where = "reader"
	}
	switch {
	case errors.Is(err, zip.ErrFormat):
		return fmt.Errorf("epub: not a zip archive: %s: %w", where, ErrIO)
	case errors.Is(err, zip.ErrChecksum), errors.Is(err, zip.ErrInsecurePath):
		return fmt.Errorf("epub: corrupt archive: %s: %s: %w", where, err, ErrIO)
	}
	return fmt.Errorf("epub: read archive: %s: %s: %w", where, err, ErrIO)
}

// initEpub performs common initialisation: mimetype validation, container
// parsing, DRM detection, package document parsing, and construction of the
// derived views.
func initEpub(zr *zip.Reader, closer io.Closer, name string, opts []Option) (*Epub, error) {
	e := &Epub{
		path:    name,
		zip:     zr,
		closer:  closer,
		staged:  make(map[string][]byte),
		deleted: make(map[string]bool),
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}

	// Build ZIP file index for O(1) lookups.
	e.buildZipIndex()

	// Validate mimetype. Deviations are logged, not fatal.
	e.validateMimetype()

	// Parse container to find the package document path.
	opfPath, err := e.parseContainer()
	if err != nil {
		return nil, err
	}
	e.opfPath = opfPath
	e.opfDir = path.Dir(opfPath)

	// Check for DRM.
	if err := e.checkDRM(); err != nil {
		return nil, err
	}

	// Read and parse the package document.
	pkg, err := e.loadXMLMember(opfPath)
	if err != nil {
		return nil, err
	}
	root := pkg.Root()
	if root == nil || root.Tag != "package" {
		return nil, fmt.Errorf("epub: %s is not a package document: %w", opfPath, ErrStructure)
	}
	e.pkg = pkg

	// Build the derived views eagerly so that structural defects, including
	// dangling spine and toc references, surface at open time before any
	// content is returned.
	if err := e.rebuild(); err != nil {
		return nil, err
	}

	e.log.Debug("opened archive",
		zap.String("path", name),
		zap.String("opf", opfPath),
		zap.String("version", e.Version()),
		zap.Int("members", len(zr.File)),
		zap.Int("spine", e.spine.Len()))
	return e, nil
}

// validateMimetype checks that the first ZIP entry is named "mimetype" and
// contains "application/epub+zip". Deviations are logged as warnings; Save
// always writes a canonical mimetype entry regardless.
func (e *Epub) validateMimetype() {
	if len(e.zip.File) == 0 {
		e.log.Warn("empty ZIP archive; mimetype entry missing")
		return
	}

	first := e.zip.File[0]
	if first.Name != mimetypeFile {
		e.log.Warn("first ZIP entry is not \"mimetype\"", zap.String("name", first.Name))
		return
	}

	data, err := readZipFile(first)
	if err != nil {
		e.log.Warn("cannot read mimetype entry", zap.Error(err))
		return
	}

	if string(data) != mimetypeEPub {
		e.log.Warn("unexpected mimetype", zap.String("mimetype", string(data)))
	}
}

// Close releases resources held by the Epub. When it was created via Open,
// Close closes the underlying file. Close is idempotent. Staged changes not
// yet saved are discarded.
func (e *Epub) Close() error {
	if e.closer != nil {
		err := e.closer.Close()
		e.closer = nil
		return err
	}
	return nil
}

// ReadFile reads an archive member by its ZIP-internal path, honoring
// staged writes and deletions. The lookup is case-insensitive as a
// fallback.
func (e *Epub) ReadFile(name string) ([]byte, error) {
	return e.readMember(name)
}

// Version returns the package version attribute ("2.0", "3.0", ...),
// defaulting to "2.0" when the attribute is absent.
func (e *Epub) Version() string {
	if root := e.pkg.Root(); root != nil {
		if v := root.SelectAttrValue("version", ""); v != "" {
			return v
		}
	}
	return "2.0"
}

// OPFPath returns the ZIP-internal path of the package document.
func (e *Epub) OPFPath() string {
	return e.opfPath
}

// pkgSection returns the named top-level section of the package document,
// or nil when absent.
func (e *Epub) pkgSection(name string) *etree.Element {
	return e.pkg.FindElement("//" + name)
}

// resync reserializes and reparses the package document, then drops the
// derived views so the next access rebuilds them against the fresh tree.
// Every mutator must call this before returning; issuing queries against a
// mutated tree that has not been reparsed is not assumed safe.
func (e *Epub) resync() error {
	data, err := e.pkg.WriteToBytes()
	if err != nil {
		return fmt.Errorf("epub: serialize package document: %w", err)
	}
	doc := newXMLDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return fmt.Errorf("epub: reparse package document: %s: %w", err, ErrStructure)
	}
	e.pkg = doc
	e.manifest, e.spine, e.toc = nil, nil, nil
	e.log.Debug("resynced package document", zap.Int("bytes", len(data)))
	return nil
}

// rebuild constructs all derived views from the current package document.
func (e *Epub) rebuild() error {
	m, err := e.buildManifest()
	if err != nil {
		return err
	}
	s, err := e.buildSpine(m)
	if err != nil {
		return err
	}
	t, err := e.buildToc(m, s)
	if err != nil {
		return err
	}
	e.manifest, e.spine, e.toc = m, s, t
	return nil
}

// Manifest returns the publication's manifest, rebuilding it when a package
// document mutation has invalidated the cached view.
func (e *Epub) Manifest() (*Manifest, error) {
	if e.manifest == nil {
		m, err := e.buildManifest()
		if err != nil {
			return nil, err
		}
		e.manifest = m
	}
	return e.manifest, nil
}

// Spine returns the publication's reading sequence, rebuilding it when a
// package document mutation has invalidated the cached view.
func (e *Epub) Spine() (*Spine, error) {
	m, err := e.Manifest()
	if err != nil {
		return nil, err
	}
	if e.spine == nil {
		s, err := e.buildSpine(m)
		if err != nil {
			return nil, err
		}
		e.spine = s
	}
	return e.spine, nil
}

// Toc returns the publication's navigation tree. The result is a deep copy;
// callers may modify it without affecting the cached view.
func (e *Epub) Toc() (*Toc, error) {
	s, err := e.Spine()
	if err != nil {
		return nil, err
	}
	if e.toc == nil {
		t, err := e.buildToc(e.manifest, s)
		if err != nil {
			return nil, err
		}
		e.toc = t
	}
	return &Toc{
		DocTitle:  e.toc.DocTitle,
		DocAuthor: e.toc.DocAuthor,
		NavPoints: copyNavPoints(e.toc.NavPoints),
	}, nil
}
