package scanning

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/zombor/expense-intake/internal/llm"
)

// LLMScanner implements Scanner on top of a language model
type LLMScanner struct {
	model      llm.Model
	httpClient *http.Client
	maxFetch   int64
	now        func() time.Time
}

// NewLLMScanner creates a scanner that reads receipts with the given model.
// httpClient is used to download image/url references.
func NewLLMScanner(model llm.Model, httpClient *http.Client) *LLMScanner {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &LLMScanner{
		model:      model,
		httpClient: httpClient,
		maxFetch:   maxFetchSize,
		now:        time.Now,
	}
}

// ScanReceipt routes the receipt to the text or vision call and parses the answer
func (s *LLMScanner) ScanReceipt(ctx context.Context, receipt Receipt) (*ReceiptData, error) {
	kind, err := ParseContentKind(string(receipt.Kind))
	if err != nil {
		return nil, err
	}

	data := receipt.Data
	if kind == KindImageURL {
		if receipt.URL == "" {
			return nil, fmt.Errorf("receipt URL is required for %s", KindImageURL)
		}
		data, kind, err = fetchReceipt(ctx, s.httpClient, receipt.URL, s.maxFetch)
		if err != nil {
			return nil, err
		}
	}

	var text string
	switch kind {
	case KindPDF:
		pageText, err := pdfText(data)
		if err != nil {
			return nil, err
		}
		text, err = s.model.GenerateText(ctx, fmt.Sprintf(receiptTextPromptFormat, pageText))
		if err != nil {
			return nil, fmt.Errorf("generating from text: %w", err)
		}
	default:
		png, err := normalizeImage(data, kind)
		if err != nil {
			return nil, err
		}
		text, err = s.model.GenerateFromImage(ctx, receiptScanPrompt, png)
		if err != nil {
			return nil, fmt.Errorf("generating from image: %w", err)
		}
	}

	parsed, err := parseReceiptJSON(text, s.now())
	if err != nil {
		return nil, fmt.Errorf("parsing receipt data: %w", err)
	}
	return parsed, nil
}
