// Package media plays MP3 segment audio on the local audio device using oto
// and go-mp3, and adapts the lector HTTP API into a playback.Source.
package media

import (
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

// bytesPerFrame is one 16-bit stereo PCM frame, the fixed output format of
// the go-mp3 decoder.
const bytesPerFrame = 4

// Engine owns the process-wide audio device context. oto supports a single
// context per process, created for one sample rate; the engine initializes it
// lazily from the first decoded track and rejects later rate changes.
type Engine struct {
	mu         sync.Mutex
	ctx        *oto.Context
	sampleRate int
}

func NewEngine() *Engine {
	return &Engine{}
}

func (e *Engine) context(sampleRate int) (*oto.Context, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx != nil {
		if sampleRate != e.sampleRate {
			return nil, fmt.Errorf("sample rate %d does not match audio device rate %d",
				sampleRate, e.sampleRate)
		}
		return e.ctx, nil
	}

	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 2,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   100 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("open audio device: %w", err)
	}
	<-ready
	e.ctx = ctx
	e.sampleRate = sampleRate
	return ctx, nil
}
