// Package scanning turns receipt images, PDFs and URLs into structured
// receipt data using a language model.
package scanning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ContentKind is the declared kind of a receipt reference
type ContentKind string

const (
	KindImageURL ContentKind = "image/url"
	KindJPEG     ContentKind = "image/jpeg"
	KindPNG      ContentKind = "image/png"
	KindPDF      ContentKind = "application/pdf"
)

// ErrUnsupportedContentType is returned for content kinds outside the supported set
var ErrUnsupportedContentType = errors.New("unsupported content type")

// ErrReceiptTooLarge is returned when a downloaded receipt exceeds the fetch limit
var ErrReceiptTooLarge = errors.New("receipt too large")

// ParseContentKind normalizes a declared content type into a ContentKind
func ParseContentKind(s string) (ContentKind, error) {
	kind := ContentKind(strings.ToLower(strings.TrimSpace(s)))
	if kind == "image/jpg" {
		kind = KindJPEG
	}
	switch kind {
	case KindImageURL, KindJPEG, KindPNG, KindPDF:
		return kind, nil
	}
	return "", fmt.Errorf("%w: %q (supported: image/url, image/jpeg, image/png, application/pdf)", ErrUnsupportedContentType, s)
}

// Receipt is a reference to a receipt: a URL for KindImageURL, raw bytes otherwise
type Receipt struct {
	Kind ContentKind
	URL  string
	Data []byte
}

// Item is one line item on a receipt
type Item struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

// ReceiptData contains extracted information from a receipt
type ReceiptData struct {
	Items       []Item  `json:"items"`
	TotalAmount float64 `json:"total_amount"`
	Date        string  `json:"date"` // YYYY-MM-DD
	Vendor      string  `json:"vendor"`
	BillNumber  *string `json:"bill_number"`
}

// UnknownVendor is used when no vendor can be read from a receipt
const UnknownVendor = "Unknown"

// Placeholder returns the well-formed empty receipt used when extraction fails
func Placeholder(now time.Time) ReceiptData {
	return ReceiptData{
		Items:       []Item{},
		TotalAmount: 0,
		Date:        now.Format(dateLayout),
		Vendor:      UnknownVendor,
		BillNumber:  nil,
	}
}

// Scanner defines the interface for receipt scanning operations
type Scanner interface {
	// ScanReceipt analyzes a receipt reference and extracts its data
	ScanReceipt(ctx context.Context, receipt Receipt) (*ReceiptData, error)
}
