package epub

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"strings"
)

// containerXML models the META-INF/container.xml file used to locate the
// package document.
type containerXML struct {
	XMLName   xml.Name   `xml:"container"`
	RootFiles []rootFile `xml:"rootfiles>rootfile"`
}

// rootFile represents a single <rootfile> element inside container.xml.
type rootFile struct {
	FullPath  string `xml:"full-path,attr"`
	MediaType string `xml:"media-type,attr"`
}

// containerFile is the well-known location of container.xml in an ePub archive.
const containerFile = "META-INF/container.xml"

// oebpsPackageType is the media type marking a rootfile as the package document.
const oebpsPackageType = "application/oebps-package+xml"

// parseContainer determines the package document path.
//
// It first tries META-INF/container.xml (case-insensitive lookup). If the file
// is missing, it falls back to scanning all ZIP entries for a ".opf" file.
// Returns a wrapped ErrStructure if no package path can be determined.
func (e *Epub) parseContainer() (string, error) {
	// Try container.xml first.
	if f := e.findFile(containerFile); f != nil {
		return parseContainerXML(f)
	}

	// Fallback: scan for .opf files.
	return e.fallbackFindOPF()
}

// parseContainerXML reads and decodes a container.xml ZIP entry, returning
// the full-path of the first rootfile with the package media type.
func parseContainerXML(f *zip.File) (string, error) {
	data, err := readZipFile(f)
	if err != nil {
		return "", fmt.Errorf("epub: read container.xml: %s: %w", err, ErrIO)
	}

	data = stripBOM(data)

	var c containerXML
	if err := xml.Unmarshal(data, &c); err != nil {
		return "", fmt.Errorf("epub: parse container.xml: %s: %w", err, ErrStructure)
	}

	if len(c.RootFiles) == 0 {
		return "", fmt.Errorf("epub: container.xml has no rootfile entries: %w", ErrStructure)
	}

	var fallbackPath string
	for _, rf := range c.RootFiles {
		fullPath := strings.TrimSpace(rf.FullPath)
		if fullPath == "" {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(rf.MediaType), oebpsPackageType) {
			return fullPath, nil
		}
		if fallbackPath == "" {
			fallbackPath = fullPath
		}
	}

	if fallbackPath == "" {
		return "", fmt.Errorf("epub: container.xml rootfile has empty full-path: %w", ErrStructure)
	}

	return fallbackPath, nil
}

// fallbackFindOPF scans the ZIP entries for the first file ending in ".opf"
// (case-insensitive).
func (e *Epub) fallbackFindOPF() (string, error) {
	for _, f := range e.zip.File {
		if strings.HasSuffix(strings.ToLower(f.Name), ".opf") {
			return f.Name, nil
		}
	}
	return "", fmt.Errorf("epub: missing %s and no OPF file found in archive: %w", containerFile, ErrStructure)
}
