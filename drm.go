package epub

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// encryptionFilePath is the standard path for the encryption descriptor.
const encryptionFilePath = "META-INF/encryption.xml"

// sinfFilePath is the path that indicates Apple FairPlay DRM.
const sinfFilePath = "META-INF/sinf.xml"

// Font obfuscation algorithm URIs – these do NOT constitute DRM.
var fontObfuscationAlgorithms = map[string]bool{
	"http://www.idpf.org/2008/embedding": true, // IDPF font obfuscation
	"http://ns.adobe.com/pdf/enc#RC":     true, // Adobe font obfuscation
}

// Known DRM namespace prefixes found in KeyInfo child elements or algorithm URIs.
var drmSignatures = []string{
	"http://ns.adobe.com/adept",      // Adobe ADEPT
	"http://readium.org/2014/01/lcp", // Readium LCP
}

// XML structures for parsing encryption.xml.

type xmlEncryption struct {
	XMLName       xml.Name           `xml:"encryption"`
	EncryptedData []xmlEncryptedData `xml:"EncryptedData"`
}

type xmlEncryptedData struct {
	EncryptionMethod xmlEncryptionMethod `xml:"EncryptionMethod"`
	KeyInfo          xmlKeyInfo          `xml:"KeyInfo"`
}

type xmlEncryptionMethod struct {
	Algorithm string `xml:"Algorithm,attr"`
}

type xmlKeyInfo struct {
	InnerXML string `xml:",innerxml"`
}

// checkDRM parses META-INF/encryption.xml (if present) and fails with
// ErrDRMProtected when the archive carries real DRM encryption. Font
// obfuscation entries do not count as DRM; they are logged and ignored.
func (e *Epub) checkDRM() error {
	// Check for Apple FairPlay indicator first.
	if e.findFile(sinfFilePath) != nil {
		return ErrDRMProtected
	}

	f := e.findFile(encryptionFilePath)
	if f == nil {
		return nil
	}

	data, err := readZipFile(f)
	if err != nil {
		return fmt.Errorf("%s: %w", err, ErrIO)
	}
	data = stripBOM(data)

	var enc xmlEncryption
	if err := xml.Unmarshal(data, &enc); err != nil {
		// If we can't parse it, treat conservatively as potential DRM.
		return ErrDRMProtected
	}

	fontObfuscation := false
	for _, ed := range enc.EncryptedData {
		algo := ed.EncryptionMethod.Algorithm

		// Check if this entry is font obfuscation.
		if fontObfuscationAlgorithms[algo] {
			fontObfuscation = true
			continue
		}

		// Check algorithm URI and KeyInfo content for known DRM signatures.
		if isDRMSignature(algo) || isDRMSignature(ed.KeyInfo.InnerXML) {
			return ErrDRMProtected
		}

		// Any EncryptedData that is NOT font obfuscation is treated as DRM.
		return ErrDRMProtected
	}

	if fontObfuscation {
		e.log.Warn("font obfuscation detected; obfuscated fonts may not render correctly")
	}
	return nil
}

// isDRMSignature checks whether s contains any known DRM namespace or identifier.
func isDRMSignature(s string) bool {
	for _, sig := range drmSignatures {
		if strings.Contains(s, sig) {
			return true
		}
	}
	return false
}
