package stream

import (
	"encoding/json"
	"strings"
)

// SSEDecoder incrementally decodes a line-oriented SSE body into text deltas.
// Implementations buffer partial lines across chunk boundaries, skip comment
// and keep-alive lines, and stop cleanly on the protocol's done sentinel.
type SSEDecoder interface {
	// Feed consumes a raw chunk and returns any complete text deltas.
	Feed(chunk []byte) []string
	// Done reports whether the stream's done sentinel has been seen.
	Done() bool
}

// lineBuffer splits chunks into complete lines, carrying partial lines
// across Feed calls.
type lineBuffer struct {
	partial string
}

func (b *lineBuffer) lines(chunk []byte) []string {
	data := b.partial + string(chunk)
	parts := strings.Split(data, "\n")
	b.partial = parts[len(parts)-1]
	return parts[:len(parts)-1]
}

// dataPayload extracts the payload of an SSE "data:" line.
// Returns "", false for blank lines, comments, and other fields.
func dataPayload(line string) (string, bool) {
	line = strings.TrimRight(line, "\r")
	if line == "" || strings.HasPrefix(line, ":") {
		return "", false
	}
	if !strings.HasPrefix(line, "data:") {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(line, "data:")), true
}

// OpenAIDecoder decodes OpenAI-style chat completion streams:
// data lines carrying choices[0].delta.content, terminated by "[DONE]".
type OpenAIDecoder struct {
	buf  lineBuffer
	done bool
}

// NewOpenAIDecoder creates a decoder for OpenAI-shaped SSE bodies.
func NewOpenAIDecoder() *OpenAIDecoder { return &OpenAIDecoder{} }

type openAIChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Feed consumes a raw chunk and returns any complete text deltas.
func (d *OpenAIDecoder) Feed(chunk []byte) []string {
	if d.done {
		return nil
	}
	var out []string
	for _, line := range d.buf.lines(chunk) {
		payload, ok := dataPayload(line)
		if !ok {
			continue
		}
		if payload == "[DONE]" {
			d.done = true
			break
		}
		var c openAIChunk
		if err := json.Unmarshal([]byte(payload), &c); err != nil {
			// Malformed lines are skipped; one bad line never aborts the stream.
			continue
		}
		if len(c.Choices) > 0 && c.Choices[0].Delta.Content != "" {
			out = append(out, c.Choices[0].Delta.Content)
		}
	}
	return out
}

// Done reports whether the [DONE] sentinel has been seen.
func (d *OpenAIDecoder) Done() bool { return d.done }

// GeminiDecoder decodes Gemini-style streams: data lines carrying
// candidates[0].content.parts[].text. The protocol has no done sentinel;
// the stream simply ends.
type GeminiDecoder struct {
	buf lineBuffer
}

// NewGeminiDecoder creates a decoder for candidates/parts-shaped SSE bodies.
func NewGeminiDecoder() *GeminiDecoder { return &GeminiDecoder{} }

type geminiChunk struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Feed consumes a raw chunk and returns any complete text deltas.
func (d *GeminiDecoder) Feed(chunk []byte) []string {
	var out []string
	for _, line := range d.buf.lines(chunk) {
		payload, ok := dataPayload(line)
		if !ok {
			continue
		}
		var c geminiChunk
		if err := json.Unmarshal([]byte(payload), &c); err != nil {
			continue
		}
		for _, cand := range c.Candidates {
			for _, part := range cand.Content.Parts {
				if part.Text != "" {
					out = append(out, part.Text)
				}
			}
		}
	}
	return out
}

// Done always returns false; Gemini streams end with connection close.
func (d *GeminiDecoder) Done() bool { return false }

// AnthropicDecoder decodes Anthropic-style streams: data lines carrying
// content_block_delta events with delta.text, terminated by message_stop.
type AnthropicDecoder struct {
	buf  lineBuffer
	done bool
}

// NewAnthropicDecoder creates a decoder for Anthropic-shaped SSE bodies.
func NewAnthropicDecoder() *AnthropicDecoder { return &AnthropicDecoder{} }

type anthropicChunk struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
}

// Feed consumes a raw chunk and returns any complete text deltas.
func (d *AnthropicDecoder) Feed(chunk []byte) []string {
	if d.done {
		return nil
	}
	var out []string
	for _, line := range d.buf.lines(chunk) {
		payload, ok := dataPayload(line)
		if !ok {
			continue
		}
		var c anthropicChunk
		if err := json.Unmarshal([]byte(payload), &c); err != nil {
			continue
		}
		switch c.Type {
		case "content_block_delta":
			if c.Delta.Text != "" {
				out = append(out, c.Delta.Text)
			}
		case "message_stop":
			d.done = true
			return out
		}
	}
	return out
}

// Done reports whether the message_stop sentinel has been seen.
func (d *AnthropicDecoder) Done() bool { return d.done }

// NewDecoderFor returns the SSE decoder matching a hosted provider family.
// Generic API providers use the OpenAI wire shape.
func NewDecoderFor(provider string) SSEDecoder {
	switch provider {
	case "anthropic":
		return NewAnthropicDecoder()
	case "gemini":
		return NewGeminiDecoder()
	default:
		return NewOpenAIDecoder()
	}
}
