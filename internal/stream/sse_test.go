package stream

import (
	"strings"
	"testing"
)

func feedAll(d SSEDecoder, chunks ...string) string {
	var out []string
	for _, c := range chunks {
		out = append(out, d.Feed([]byte(c))...)
	}
	return strings.Join(out, "")
}

func TestOpenAIDecoder(t *testing.T) {
	d := NewOpenAIDecoder()

	body := "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n" +
		"data: [DONE]\n\n"

	got := feedAll(d, body)
	if got != "Hello" {
		t.Errorf("decoded %q, want %q", got, "Hello")
	}
	if !d.Done() {
		t.Error("decoder should be done after [DONE]")
	}
	if extra := d.Feed([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n")); extra != nil {
		t.Errorf("feed after done returned %v, want nil", extra)
	}
}

func TestOpenAIDecoderPartialLines(t *testing.T) {
	d := NewOpenAIDecoder()

	// A data line split across chunk boundaries must be reassembled.
	got := feedAll(d,
		"data: {\"choices\":[{\"del",
		"ta\":{\"content\":\"split\"}}]}\n",
	)
	if got != "split" {
		t.Errorf("decoded %q, want %q", got, "split")
	}
}

func TestOpenAIDecoderSkipsCommentsAndBadJSON(t *testing.T) {
	d := NewOpenAIDecoder()

	body := ": keep-alive\n" +
		"data: {not json}\n" +
		"event: ping\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n"

	if got := feedAll(d, body); got != "ok" {
		t.Errorf("decoded %q, want %q", got, "ok")
	}
}

func TestGeminiDecoder(t *testing.T) {
	d := NewGeminiDecoder()

	body := "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"a\"},{\"text\":\"b\"}]}}]}\r\n" +
		"data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"c\"}]}}]}\n"

	if got := feedAll(d, body); got != "abc" {
		t.Errorf("decoded %q, want %q", got, "abc")
	}
}

func TestAnthropicDecoder(t *testing.T) {
	d := NewAnthropicDecoder()

	body := "data: {\"type\":\"message_start\"}\n" +
		"data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"hi \"}}\n" +
		"data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"there\"}}\n" +
		"data: {\"type\":\"message_stop\"}\n" +
		"data: {\"type\":\"content_block_delta\",\"delta\":{\"text\":\"late\"}}\n"

	if got := feedAll(d, body); got != "hi there" {
		t.Errorf("decoded %q, want %q", got, "hi there")
	}
	if !d.Done() {
		t.Error("decoder should be done after message_stop")
	}
}

func TestNewDecoderFor(t *testing.T) {
	tests := []struct {
		provider string
		want     string
	}{
		{"anthropic", "*stream.AnthropicDecoder"},
		{"gemini", "*stream.GeminiDecoder"},
		{"openai", "*stream.OpenAIDecoder"},
		{"api", "*stream.OpenAIDecoder"},
	}

	for _, tt := range tests {
		d := NewDecoderFor(tt.provider)
		var got string
		switch d.(type) {
		case *AnthropicDecoder:
			got = "*stream.AnthropicDecoder"
		case *GeminiDecoder:
			got = "*stream.GeminiDecoder"
		case *OpenAIDecoder:
			got = "*stream.OpenAIDecoder"
		}
		if got != tt.want {
			t.Errorf("NewDecoderFor(%q) = %s, want %s", tt.provider, got, tt.want)
		}
	}
}
