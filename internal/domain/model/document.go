package model

import (
	"fmt"
	"strings"
)

// Format is the document type produced by the renderer.
type Format string

// Supported formats.
const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// ParseFormat maps a user-supplied name to a Format. Empty means PDF.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case "", FormatPDF:
		return FormatPDF, nil
	case FormatDOCX:
		return FormatDOCX, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidFormat, s)
	}
}

// Extension returns the file extension for f.
func (f Format) Extension() string {
	if f == "" {
		return string(FormatPDF)
	}
	return string(f)
}

// ContentType returns the MIME type for f.
func (f Format) ContentType() string {
	if f == FormatDOCX {
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	}
	return "application/pdf"
}

// FileName returns the attachment name for a subject's report.
func (f Format) FileName(subjectID string, p Period) string {
	return fmt.Sprintf("%s-%04d-%02d.%s", subjectID, p.Year, p.Month, f.Extension())
}

// RenderRequest is one document to render.
type RenderRequest struct {
	// Input is the HTML the document is produced from.
	Input  string
	Format Format
}

// Recipient says where a delivery goes. The zero value means the sink's
// configured default address.
type Recipient struct {
	addr string
}

// To addresses a delivery to addr explicitly.
func To(addr string) Recipient {
	return Recipient{addr: strings.TrimSpace(addr)}
}

// DefaultRecipient defers to the sink's configured address.
func DefaultRecipient() Recipient {
	return Recipient{}
}

// Explicit reports whether an address was given.
func (r Recipient) Explicit() bool {
	return r.addr != ""
}

// Resolve returns the explicit address if one was given, otherwise fallback.
// It fails with ErrNoRecipient when both are empty.
func (r Recipient) Resolve(fallback string) (string, error) {
	if r.addr != "" {
		return r.addr, nil
	}
	if fb := strings.TrimSpace(fallback); fb != "" {
		return fb, nil
	}
	return "", ErrNoRecipient
}

// String returns the explicit address, or "default".
func (r Recipient) String() string {
	if r.addr == "" {
		return "default"
	}
	return r.addr
}

// Delivery is a rendered report handed to a sink.
type Delivery struct {
	SubjectID string
	Period    Period
	Bytes     []byte
	Format    Format
	Recipient Recipient
	Metadata  map[string]string
}

// FileName returns the attachment name for d.
func (d Delivery) FileName() string {
	return d.Format.FileName(d.SubjectID, d.Period)
}
