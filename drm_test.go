package epub

import (
	"bytes"
	"errors"
	"testing"
)

func openDRMFixture(t *testing.T, extra map[string]string) error {
	t.Helper()

	files := minimalBookFiles()
	for k, v := range extra {
		files[k] = v
	}
	data := buildTestEPubBytes(t, files)
	book, err := NewReader(bytes.NewReader(data), int64(len(data)))
	if err == nil {
		book.Close()
	}
	return err
}

func TestDRM_FairPlay(t *testing.T) {
	err := openDRMFixture(t, map[string]string{
		"META-INF/sinf.xml": "<sinf/>",
	})
	if !errors.Is(err, ErrDRMProtected) {
		t.Errorf("open error = %v, want ErrDRMProtected", err)
	}
}

func TestDRM_AdobeAdept(t *testing.T) {
	const encryption = `<?xml version="1.0"?>
<encryption xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <EncryptedData xmlns="http://www.w3.org/2001/04/xmlenc#">
    <EncryptionMethod Algorithm="http://www.w3.org/2001/04/xmlenc#aes128-cbc"/>
    <KeyInfo xmlns="http://www.w3.org/2000/09/xmldsig#">
      <resource xmlns="http://ns.adobe.com/adept">urn:uuid:0</resource>
    </KeyInfo>
  </EncryptedData>
</encryption>`
	err := openDRMFixture(t, map[string]string{
		"META-INF/encryption.xml": encryption,
	})
	if !errors.Is(err, ErrDRMProtected) {
		t.Errorf("open error = %v, want ErrDRMProtected", err)
	}
}

func TestDRM_ReadiumLCP(t *testing.T) {
	const encryption = `<?xml version="1.0"?>
<encryption xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <EncryptedData xmlns="http://www.w3.org/2001/04/xmlenc#">
    <EncryptionMethod Algorithm="http://www.w3.org/2001/04/xmlenc#aes256-cbc"/>
    <KeyInfo xmlns="http://www.w3.org/2000/09/xmldsig#">
      <RetrievalMethod URI="license.lcpl#/encryption/content_key" Type="http://readium.org/2014/01/lcp"/>
    </KeyInfo>
  </EncryptedData>
</encryption>`
	err := openDRMFixture(t, map[string]string{
		"META-INF/encryption.xml": encryption,
	})
	if !errors.Is(err, ErrDRMProtected) {
		t.Errorf("open error = %v, want ErrDRMProtected", err)
	}
}

func TestDRM_UnknownEncryption(t *testing.T) {
	// Encrypted content with no recognized signature still counts as DRM.
	const encryption = `<?xml version="1.0"?>
<encryption xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <EncryptedData xmlns="http://www.w3.org/2001/04/xmlenc#">
    <EncryptionMethod Algorithm="http://example.com/own-crypto"/>
    <KeyInfo xmlns="http://www.w3.org/2000/09/xmldsig#"/>
  </EncryptedData>
</encryption>`
	err := openDRMFixture(t, map[string]string{
		"META-INF/encryption.xml": encryption,
	})
	if !errors.Is(err, ErrDRMProtected) {
		t.Errorf("open error = %v, want ErrDRMProtected", err)
	}
}

func TestDRM_Unparseable(t *testing.T) {
	err := openDRMFixture(t, map[string]string{
		"META-INF/encryption.xml": "<encryption><EncryptedData",
	})
	if !errors.Is(err, ErrDRMProtected) {
		t.Errorf("open error = %v, want ErrDRMProtected", err)
	}
}

func TestDRM_FontObfuscationOnly(t *testing.T) {
	// IDPF and Adobe font obfuscation are not DRM; the book must open.
	const encryption = `<?xml version="1.0"?>
<encryption xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <EncryptedData xmlns="http://www.w3.org/2001/04/xmlenc#">
    <EncryptionMethod Algorithm="http://www.idpf.org/2008/embedding"/>
    <KeyInfo xmlns="http://www.w3.org/2000/09/xmldsig#"/>
  </EncryptedData>
  <EncryptedData xmlns="http://www.w3.org/2001/04/xmlenc#">
    <EncryptionMethod Algorithm="http://ns.adobe.com/pdf/enc#RC"/>
    <KeyInfo xmlns="http://www.w3.org/2000/09/xmldsig#"/>
  </EncryptedData>
</encryption>`
	if err := openDRMFixture(t, map[string]string{
		"META-INF/encryption.xml": encryption,
	}); err != nil {
		t.Errorf("open error = %v, want the book to open", err)
	}
}

func TestDRM_NoEncryptionFile(t *testing.T) {
	if err := openDRMFixture(t, nil); err != nil {
		t.Errorf("open error = %v, want the book to open", err)
	}
}

func TestIsDRMSignature(t *testing.T) {
	if !isDRMSignature("http://ns.adobe.com/adept/resource") {
		t.Error("adept namespace not recognized")
	}
	if !isDRMSignature(`<RetrievalMethod Type="http://readium.org/2014/01/lcp"/>`) {
		t.Error("lcp namespace not recognized")
	}
	if isDRMSignature("http://www.idpf.org/2008/embedding") {
		t.Error("font obfuscation algorithm misread as DRM")
	}
}
