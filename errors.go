package epub

import "errors"

// Sentinel errors returned by the epub package. Errors returned from any
// operation wrap exactly one of these; check with errors.Is.
var (
	// ErrIO indicates the archive itself could not be read: the file is
	// missing, is not a ZIP archive, or its central directory is corrupt.
	// The wrapping message distinguishes the cause.
	ErrIO = errors.New("epub: cannot read archive")

	// ErrStructure indicates a required archive member or XML element is
	// missing or malformed: no container rootfile, no package manifest or
	// spine, a dangling spine/toc cross-reference, or an empty member.
	ErrStructure = errors.New("epub: malformed package structure")

	// ErrNotFound indicates a content-extraction fragment anchor (begin
	// or end element id) is not present in the target document.
	ErrNotFound = errors.New("epub: fragment anchor not found")

	// ErrInvalidInput indicates a caller-supplied argument is invalid,
	// such as an unreadable cover source path or an unknown manifest id.
	ErrInvalidInput = errors.New("epub: invalid argument")

	// ErrNamespace indicates a qualified name used an XML namespace
	// prefix that is not in the registry.
	ErrNamespace = errors.New("epub: unknown namespace prefix")

	// ErrDRMProtected indicates the EPUB file is protected by DRM
	// (e.g., Adobe ADEPT, Apple FairPlay, Readium LCP) and cannot be edited.
	ErrDRMProtected = errors.New("epub: file is DRM protected")

	// ErrFileNotFound indicates the requested file does not exist
	// in the EPUB archive.
	ErrFileNotFound = errors.New("epub: file not found in archive")

	// ErrNoCover indicates no cover image could be detected
	// using any of the supported strategies.
	ErrNoCover = errors.New("epub: no cover image found")
)
