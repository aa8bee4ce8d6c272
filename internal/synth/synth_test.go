package synth

import (
	"bytes"
	"context"
	"testing"

	"github.com/lectorlabs/lector-core/internal/config"
)

func TestMockSynthDeterministic(t *testing.T) {
	s := NewMockSynth()
	req := Request{Text: "some segment text", Voice: "nova", Model: "tts-1"}

	first, err := s.Synthesize(context.Background(), req)
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	second, err := s.Synthesize(context.Background(), req)
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatal("expected deterministic output for identical requests")
	}

	other, err := s.Synthesize(context.Background(), Request{Text: "different", Voice: "nova", Model: "tts-1"})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if bytes.Equal(first, other) {
		t.Fatal("expected different output for different text")
	}
}

func TestMockSynthRespectsContext(t *testing.T) {
	s := NewMockSynth()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Synthesize(ctx, Request{Text: "x"}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestNewSelectsMode(t *testing.T) {
	if _, err := New(config.SynthesisConfig{Mode: "mock"}); err != nil {
		t.Fatalf("mock mode: %v", err)
	}
	if _, err := New(config.SynthesisConfig{Mode: "openai", APIKey: "sk-test"}); err != nil {
		t.Fatalf("openai mode: %v", err)
	}
	if _, err := New(config.SynthesisConfig{Mode: "exec", Command: "piper --json"}); err != nil {
		t.Fatalf("exec mode: %v", err)
	}
	if _, err := New(config.SynthesisConfig{Mode: "sing"}); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}
