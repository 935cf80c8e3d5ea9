// Package export renders a discussion and its whole reply forest as a
// standalone HTML page or a PDF.
package export

import "errors"

// Format represents the export output format
type Format string

const (
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
)

// ParseFormat accepts an empty value as HTML.
func ParseFormat(raw string) (Format, bool) {
	switch Format(raw) {
	case "", FormatHTML:
		return FormatHTML, true
	case FormatPDF:
		return FormatPDF, true
	default:
		return "", false
	}
}

type Request struct {
	DiscussionID string
	Format       Format
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	ErrUnsupportedFormat = errors.New("unsupported export format")
	// ErrPDFDependencyMissing indicates no Chrome or Chromium binary is installed.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
