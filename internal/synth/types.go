// Package synth wraps the external speech-synthesis call behind a small
// interface so the generation pipeline can be exercised with test doubles.
package synth

import (
	"context"
	"fmt"

	"github.com/lectorlabs/lector-core/internal/config"
)

// Request carries the full set of inputs for one synthesis call. Together
// with the segment index these are exactly the inputs of the artifact key.
type Request struct {
	Text  string
	Voice string
	Model string
}

// Synthesizer turns text into encoded audio bytes. A call either returns the
// complete audio for the request or an error; there is no partial success.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) ([]byte, error)
}

// New builds the synthesizer selected by config.
func New(cfg config.SynthesisConfig) (Synthesizer, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockSynth(), nil
	case "openai":
		return NewOpenAISynth(cfg.APIKey), nil
	case "exec":
		return NewExecSynth(cfg.Command)
	default:
		return nil, fmt.Errorf("unknown synthesis mode %q", cfg.Mode)
	}
}
