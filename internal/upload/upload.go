// Package upload runs local pre-flight checks on documents before they are
// sent to the job service, and stores operator-supplied files on disk.
package upload

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

const (
	PDFMimeType = "application/pdf"

	// MaxSize matches the job service's request body limit.
	MaxSize = 16 * 1024 * 1024

	invalidTypeMessage = "Please select a valid PDF file."
)

// ValidationError reports a document rejected locally. It never reaches
// the network.
type ValidationError struct {
	Name   string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// IsValidation reports whether err is, or wraps, a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Document is a file that passed pre-flight.
type Document struct {
	Path     string
	Name     string
	MimeType string
	Size     int64
	// Pages is 0 when the page count could not be read.
	Pages int
}

// Open opens the document for reading.
func (d *Document) Open() (*os.File, error) {
	return os.Open(d.Path)
}

// Validate checks that path is a PDF the job service will accept.
// declaredType is the MIME type the caller was told, if any; a declared
// type other than application/pdf is rejected without reading the file.
func Validate(path, declaredType string) (*Document, error) {
	name := filepath.Base(path)

	if dt := normalizeType(declaredType); dt != "" && dt != PDFMimeType {
		return nil, &ValidationError{Name: name, Reason: invalidTypeMessage}
	}
	if !strings.EqualFold(filepath.Ext(name), ".pdf") {
		return nil, &ValidationError{Name: name, Reason: invalidTypeMessage}
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &ValidationError{Name: name, Reason: fmt.Sprintf("File %q does not exist.", name)}
		}
		return nil, fmt.Errorf("stat document: %w", err)
	}
	if info.IsDir() {
		return nil, &ValidationError{Name: name, Reason: invalidTypeMessage}
	}
	if info.Size() == 0 {
		return nil, &ValidationError{Name: name, Reason: fmt.Sprintf("File %q is empty.", name)}
	}
	if info.Size() > MaxSize {
		return nil, &ValidationError{
			Name: name,
			Reason: fmt.Sprintf("File %q is %s; the limit is %s.",
				name, humanize.IBytes(uint64(info.Size())), humanize.IBytes(MaxSize)),
		}
	}

	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, fmt.Errorf("detect document type: %w", err)
	}
	if !mt.Is(PDFMimeType) {
		return nil, &ValidationError{Name: name, Reason: invalidTypeMessage}
	}

	doc := &Document{
		Path:     path,
		Name:     name,
		MimeType: mt.String(),
		Size:     info.Size(),
	}
	if n, err := PageCountFile(path); err == nil {
		doc.Pages = n
	}
	return doc, nil
}

// PageCountFile returns the number of pages in the PDF at path.
func PageCountFile(path string) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			n, err = 0, fmt.Errorf("read page count: %v", r)
		}
	}()
	return api.PageCountFile(path)
}

// CountPages returns the number of pages in the PDF read from rs.
func CountPages(rs io.ReadSeeker) (n int, err error) {
	// pdfcpu can panic on malformed input.
	defer func() {
		if r := recover(); r != nil {
			n, err = 0, fmt.Errorf("read page count: %v", r)
		}
	}()
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return api.PageCount(rs, conf)
}

func normalizeType(t string) string {
	t = strings.TrimSpace(strings.ToLower(t))
	if i := strings.IndexByte(t, ';'); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	return t
}
