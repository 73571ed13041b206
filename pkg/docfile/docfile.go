// Package docfile inspects uploaded document templates.
package docfile

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"paperwise/pkg/domain"
)

const (
	ContentTypePDF  = "application/pdf"
	ContentTypeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

// ErrUnsupported is returned for files that are neither PDF nor DOCX.
var ErrUnsupported = errors.New("unsupported document format")

// Info describes a validated template file.
type Info struct {
	Format      domain.Format
	ContentType string
	PageCount   int // zero when the format does not expose pages
}

// Inspect validates data by its extension and content.
func Inspect(filename string, data []byte) (Info, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		pages, err := pdfPages(data)
		if err != nil {
			return Info{}, fmt.Errorf("invalid pdf: %w", err)
		}
		return Info{Format: domain.FormatPDF, ContentType: ContentTypePDF, PageCount: pages}, nil
	case ".docx":
		if err := checkDOCX(data); err != nil {
			return Info{}, fmt.Errorf("invalid docx: %w", err)
		}
		return Info{Format: domain.FormatDOCX, ContentType: ContentTypeDOCX}, nil
	default:
		return Info{}, ErrUnsupported
	}
}

func pdfPages(data []byte) (pages int, err error) {
	// the parser panics on some malformed cross-reference tables
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parse: %v", r)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, err
	}
	pages = r.NumPage()
	if pages <= 0 {
		return 0, errors.New("document has no pages")
	}
	return pages, nil
}

func checkDOCX(data []byte) error {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return err
	}
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			return nil
		}
	}
	return errors.New("missing word/document.xml")
}
