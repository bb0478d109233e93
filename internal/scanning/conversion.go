package scanning

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"io"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
	_ "golang.org/x/image/webp" // Register WebP decoder for mislabelled phone exports
)

// maxFetchSize bounds receipt downloads
const maxFetchSize = 50 << 20

// receiptJSONContract is the response shape every extraction prompt asks for
const receiptJSONContract = `Return ONLY valid JSON in this exact format:
{
  "items": [{"name": "item name", "price": 0.00}],
  "total_amount": 0.00,
  "date": "YYYY-MM-DD",
  "vendor": "store name",
  "bill_number": "receipt number/bill number"
}

Rules:
- Extract every item and its exact price
- total_amount and every price must be numbers, not strings
- The date must be in YYYY-MM-DD format
- vendor is the merchant, store or business name printed on the receipt
- bill_number is the bill, invoice, ticket, PNR or receipt number if visible; use null otherwise
- Do not include any text before or after the JSON`

// receiptScanPrompt is sent alongside a receipt image
const receiptScanPrompt = `You are analyzing a receipt, bill or ticket. Carefully read all text in the image and extract the line items, the final total, the transaction date, the vendor and the bill number. Amounts are in INR unless another currency is printed.

` + receiptJSONContract

// receiptTextPromptFormat wraps text already extracted from a PDF receipt
const receiptTextPromptFormat = `You are a receipt analysis expert. Analyze this receipt text and extract the line items, the final total, the transaction date, the vendor and the bill number. Amounts are in INR unless another currency is printed.

Text content:
%s

` + receiptJSONContract

// pdfText extracts and concatenates the text of every page of a PDF
func pdfText(pdfData []byte) (string, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return "", fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	var textBuilder strings.Builder
	for i := 0; i < doc.NumPage(); i++ {
		pageText, err := doc.Text(i)
		if err != nil {
			return "", fmt.Errorf("extracting text from page %d: %w", i+1, err)
		}
		if pageText != "" {
			textBuilder.WriteString(pageText)
			textBuilder.WriteString("\n")
		}
	}

	text := strings.TrimSpace(textBuilder.String())
	if text == "" {
		return "", fmt.Errorf("no text found in PDF")
	}
	return text, nil
}

// normalizeImage converts any supported image to PNG.
// Phones frequently label HEIC photos as JPEG, so the bytes are sniffed too.
func normalizeImage(imageData []byte, kind ContentKind) ([]byte, error) {
	heicData := isHEICFormat(imageData)
	if kind == KindPNG && !heicData {
		return imageData, nil
	}

	var img image.Image
	var err error
	if heicData {
		img, err = heic.Decode(bytes.NewReader(imageData))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
	} else {
		img, _, err = image.Decode(bytes.NewReader(imageData))
		if err != nil {
			return nil, fmt.Errorf("decoding image: %w", err)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// isHEICFormat checks for an ftyp box with a HEIC-related brand
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	brand := string(data[8:12])
	return brand == "heic" || brand == "heif" || brand == "mif1" || brand == "msf1"
}

// DetectKind sniffs raw bytes and returns the matching ContentKind
func DetectKind(data []byte) (ContentKind, error) {
	mtype := mimetype.Detect(data)
	switch {
	case mtype.Is("application/pdf"):
		return KindPDF, nil
	case mtype.Is("image/png"):
		return KindPNG, nil
	case mtype.Is("image/jpeg"):
		return KindJPEG, nil
	case isHEICFormat(data):
		// decoded through the HEIC path in normalizeImage
		return KindJPEG, nil
	}
	return "", fmt.Errorf("%w: detected %s", ErrUnsupportedContentType, mtype.String())
}

// fetchReceipt downloads a receipt URL and sniffs what it contains
func fetchReceipt(ctx context.Context, client *http.Client, url string, limit int64) ([]byte, ContentKind, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("creating request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetching receipt: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetching receipt: status %d", resp.StatusCode)
	}

	if resp.ContentLength > limit {
		return nil, "", fmt.Errorf("%w: receipt exceeds %s", ErrReceiptTooLarge, formatSize(limit))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, "", fmt.Errorf("reading receipt: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, "", fmt.Errorf("%w: receipt exceeds %s", ErrReceiptTooLarge, formatSize(limit))
	}

	kind, err := DetectKind(data)
	if err != nil {
		return nil, "", err
	}
	return data, kind, nil
}

func formatSize(n int64) string {
	if n >= 1<<20 && n%(1<<20) == 0 {
		return fmt.Sprintf("%dMB", n>>20)
	}
	return fmt.Sprintf("%d bytes", n)
}
