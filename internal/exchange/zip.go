package exchange

import (
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/spboyer/kinetic/internal/models"
)

const (
	documentEntry = "solutions.json"
	previewDir    = "preview"
)

// WriteZip writes a bundle holding the JSON document plus one HTML preview
// per solution.
func WriteZip(w io.Writer, doc *Document) error {
	zw := zip.NewWriter(w)

	var buf bytes.Buffer
	if err := EncodeJSON(&buf, doc); err != nil {
		return err
	}
	if err := writeEntry(zw, documentEntry, buf.Bytes()); err != nil {
		return err
	}
	for _, s := range doc.Solutions {
		if err := writeEntry(zw, previewName(s), []byte(HTML(s))); err != nil {
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finishing zip: %w", err)
	}
	return nil
}

func writeEntry(zw *zip.Writer, name string, data []byte) error {
	f, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("creating %s: %w", name, err)
	}
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}

func previewName(s *models.Solution) string {
	id := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s.ID)
	return path.Join(previewDir, fmt.Sprintf("%s-v%d.html", id, s.Version))
}

// ReadZip reads the document out of a bundle written by WriteZip. Preview
// files are ignored; the document is authoritative.
func ReadZip(r io.ReaderAt, size int64) (*Document, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("opening zip: %w", err)
	}
	for _, f := range zr.File {
		if f.Name != documentEntry {
			continue
		}
		if f.UncompressedSize64 > maxDocumentSize {
			return nil, fmt.Errorf("%s exceeds %d bytes", documentEntry, maxDocumentSize)
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", documentEntry, err)
		}
		defer rc.Close() //nolint:errcheck
		return DecodeJSON(rc)
	}
	return nil, fmt.Errorf("zip has no %s entry", documentEntry)
}
