package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/Role1776/gigago"
)

// GigaChat implements Model using Sber GigaChat. It is text only.
type GigaChat struct {
	client *gigago.Client
	model  *gigago.GenerativeModel
}

// GigaChatConfig holds GigaChat credentials
type GigaChatConfig struct {
	APIKey             string
	Scope              string
	InsecureSkipVerify bool
}

// NewGigaChat creates a new GigaChat model client
func NewGigaChat(ctx context.Context, cfg GigaChatConfig) (*GigaChat, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gigachat api key is required")
	}
	if cfg.Scope == "" {
		cfg.Scope = "GIGACHAT_API_PERS"
	}

	opts := []gigago.Option{
		gigago.WithCustomScope(cfg.Scope),
	}
	if cfg.InsecureSkipVerify {
		opts = append(opts, gigago.WithCustomInsecureSkipVerify(true))
	}

	client, err := gigago.NewClient(ctx, cfg.APIKey, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating gigachat client: %w", err)
	}

	model := client.GenerativeModel("GigaChat")
	model.Temperature = 0.3

	return &GigaChat{
		client: client,
		model:  model,
	}, nil
}

// GenerateText sends a text prompt to GigaChat
func (g *GigaChat) GenerateText(ctx context.Context, prompt string) (string, error) {
	messages := []gigago.Message{
		{Role: gigago.RoleUser, Content: prompt},
	}

	resp, err := g.model.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("generating response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from gigachat")
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// GenerateFromImage is not supported by GigaChat chat completions
func (g *GigaChat) GenerateFromImage(ctx context.Context, prompt string, png []byte) (string, error) {
	return "", ErrImageUnsupported
}

// Close closes the GigaChat client
func (g *GigaChat) Close() error {
	g.client.Close()
	return nil
}
