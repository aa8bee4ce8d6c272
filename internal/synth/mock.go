package synth

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"
)

type mockSynth struct {
	delay time.Duration
}

// NewMockSynth returns a synthesizer producing deterministic bytes derived
// from the request, so generated "audio" is stable across runs and key
// collisions are detectable in tests.
func NewMockSynth() Synthesizer {
	return &mockSynth{delay: 10 * time.Millisecond}
}

func (m *mockSynth) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(m.delay):
	}
	seed := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s", req.Text, req.Voice, req.Model)))
	// Roughly one byte of output per input character keeps progress metrics
	// believable without inflating test fixtures.
	size := len(req.Text)
	if size < 64 {
		size = 64
	}
	out := make([]byte, size)
	for i := range out {
		out[i] = seed[i%len(seed)]
	}
	return out, nil
}
