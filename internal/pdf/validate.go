package pdf

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ledongthuc/pdf"
)

// ErrNotPDF is returned when uploaded bytes are not a parseable PDF.
var ErrNotPDF = errors.New("not a valid pdf")

// PageCount parses the document and returns its page count.
// Uploads that fail to parse are rejected before anything is stored.
func PageCount(data []byte) (int, error) {
	if len(data) == 0 {
		return 0, ErrNotPDF
	}
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNotPDF, err)
	}
	pages := reader.NumPage()
	if pages < 1 {
		return 0, ErrNotPDF
	}
	return pages, nil
}
