// Package llm provides the one-shot LLM collaborator used for planning and
// meeting prompts, plus the per-provider CLI invocation builders.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// OneShot issues a single prompt and returns the full text reply. It is the
// only LLM surface the routing and meeting layers consume, so tests can swap
// in a canned implementation.
type OneShot interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// OneShotFunc adapts a function to the OneShot interface.
type OneShotFunc func(ctx context.Context, system, prompt string) (string, error)

// Complete calls f.
func (f OneShotFunc) Complete(ctx context.Context, system, prompt string) (string, error) {
	return f(ctx, system, prompt)
}

// AnthropicClient is the production OneShot backed by the Anthropic API.
type AnthropicClient struct {
	inner anthropic.Client
	model anthropic.Model
}

// Verify AnthropicClient implements OneShot at compile time.
var _ OneShot = (*AnthropicClient)(nil)

// NewAnthropicClient creates a OneShot client for the given API key and model.
func NewAnthropicClient(apiKey, model string) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	m := anthropic.Model(model)
	if model == "" {
		m = anthropic.ModelClaudeSonnet4_20250514
	}
	return &AnthropicClient{
		inner: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model: m,
	}, nil
}

// Complete sends one message and concatenates the text blocks of the reply.
func (c *AnthropicClient) Complete(ctx context.Context, system, prompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 4096,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := c.inner.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic one-shot: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(variant.Text)
		}
	}
	return sb.String(), nil
}
