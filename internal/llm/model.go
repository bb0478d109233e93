// Package llm wraps the hosted and local language models used to read
// receipts and judge expenses.
package llm

import (
	"context"
	"errors"
)

// ErrImageUnsupported is returned by models that cannot accept image input.
var ErrImageUnsupported = errors.New("model does not accept image input")

// Model defines the operations the pipeline needs from a language model
type Model interface {
	// GenerateText sends a text-only prompt and returns the raw response text
	GenerateText(ctx context.Context, prompt string) (string, error)
	// GenerateFromImage sends a PNG image followed by a prompt
	GenerateFromImage(ctx context.Context, prompt string, png []byte) (string, error)
	// Close releases the underlying client
	Close() error
}
