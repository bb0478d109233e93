package scanning

import (
	"context"
	"fmt"
	"time"

	"github.com/zombor/expense-intake/internal/fallback"
)

// DefaultTimeout bounds a single extraction call
const DefaultTimeout = 30 * time.Second

// Extractor applies the degrade-to-default policy around a Scanner: it never
// returns an error, only a possibly degraded ReceiptData.
type Extractor struct {
	scanner Scanner
	timeout time.Duration
	now     func() time.Time
}

// NewExtractor creates an Extractor. A zero timeout uses DefaultTimeout.
func NewExtractor(scanner Scanner, timeout time.Duration) *Extractor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Extractor{
		scanner: scanner,
		timeout: timeout,
		now:     time.Now,
	}
}

type scanOutcome struct {
	data *ReceiptData
	err  error
}

// Extract scans the receipt, substituting Placeholder on any failure or when
// the scanner does not answer within the timeout.
func (e *Extractor) Extract(ctx context.Context, receipt Receipt) fallback.Result[ReceiptData] {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	done := make(chan scanOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- scanOutcome{err: fmt.Errorf("scanner panic: %v", r)}
			}
		}()
		data, err := e.scanner.ScanReceipt(ctx, receipt)
		done <- scanOutcome{data: data, err: err}
	}()

	var out scanOutcome
	select {
	case out = <-done:
	case <-ctx.Done():
		out = scanOutcome{err: fmt.Errorf("scanning receipt: %w", ctx.Err())}
	}

	if out.err != nil {
		return fallback.Degraded(Placeholder(e.now()), out.err)
	}
	if out.data == nil {
		return fallback.Degraded(Placeholder(e.now()), fmt.Errorf("scanner returned no data"))
	}
	if out.data.Items == nil {
		out.data.Items = []Item{}
	}
	return fallback.Ok(*out.data)
}
