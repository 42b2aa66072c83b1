// Package exchange moves solutions in and out of the library as JSON
// documents, ZIP bundles and standalone HTML previews.
package exchange

import (
	"fmt"
	"io"
	"time"

	"github.com/goccy/go-json"

	"github.com/spboyer/kinetic/internal/models"
	"github.com/spboyer/kinetic/internal/validation"
)

const (
	// Format tags exchange documents.
	Format = "kinetic-solutions"
	// Version is the document layout version.
	Version = 1

	maxDocumentSize = 64 << 20
)

// Document is the serialized form of a set of solutions. Every stored field
// of a solution is carried, so a round trip loses nothing but the version,
// which the importing library assigns.
type Document struct {
	Format     string             `json:"format"`
	Version    int                `json:"version"`
	ExportedAt time.Time          `json:"exported_at"`
	Solutions  []*models.Solution `json:"solutions"`
}

// NewDocument wraps sols for export.
func NewDocument(sols []*models.Solution, now time.Time) *Document {
	if sols == nil {
		sols = []*models.Solution{}
	}
	return &Document{Format: Format, Version: Version, ExportedAt: now.UTC(), Solutions: sols}
}

// EncodeJSON writes doc as indented JSON.
func EncodeJSON(w io.Writer, doc *Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling document: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing document: %w", err)
	}
	return nil
}

// DecodeJSON reads a document, rejecting it unless it satisfies the exchange
// schema.
func DecodeJSON(r io.Reader) (*Document, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxDocumentSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading document: %w", err)
	}
	if len(data) > maxDocumentSize {
		return nil, fmt.Errorf("document exceeds %d bytes", maxDocumentSize)
	}
	return decode(data)
}

func decode(data []byte) (*Document, error) {
	if err := validation.ValidateExchange(data); err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing document: %w", err)
	}
	return &doc, nil
}
