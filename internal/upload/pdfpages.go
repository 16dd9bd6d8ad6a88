package upload

import (
	"bytes"
	"fmt"

	"github.com/ledongthuc/pdf"
)

// countPDFPages opens data as a PDF and returns its page count, capped at
// maxPages — a file exceeding the cap is rejected before any charge is
// made (§4.8 step 6).
func countPDFPages(data []byte, maxPages int) (int, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("opening pdf: %w", err)
	}
	n := r.NumPage()
	if n > maxPages {
		return n, fmt.Errorf("pdf has %d pages, exceeds the %d page limit", n, maxPages)
	}
	return n, nil
}
