package media

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/hajimehoshi/go-mp3"
)

// track plays one decoded MP3 segment. The compressed bytes are held in
// memory for the life of the track so seeks stay cheap.
type track struct {
	engine   *Engine
	data     []byte
	duration float64

	mu      sync.Mutex
	dec     *mp3.Decoder
	player  *oto.Player
	rate    int
	paused  bool
	closed  bool
	done    chan struct{}
	doneOne sync.Once
	watchWg sync.WaitGroup
}

func newTrack(engine *Engine, data []byte) (*track, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode mp3: %w", err)
	}
	rate := dec.SampleRate()
	duration := float64(dec.Length()) / float64(bytesPerFrame*rate)
	return &track{
		engine:   engine,
		data:     data,
		duration: duration,
		dec:      dec,
		rate:     rate,
		done:     make(chan struct{}),
	}, nil
}

func (t *track) Duration() float64 { return t.duration }

// Start begins playback at offset seconds, tearing down any previous player.
func (t *track) Start(offset float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("track is closed")
	}
	if t.player != nil {
		t.player.Close()
		t.player = nil
	}

	// Re-decode from the retained bytes so restarts after a natural end
	// work, then seek to the PCM frame for the offset.
	dec, err := mp3.NewDecoder(bytes.NewReader(t.data))
	if err != nil {
		return fmt.Errorf("decode mp3: %w", err)
	}
	pos := int64(offset*float64(t.rate)) * bytesPerFrame
	if pos > dec.Length() {
		pos = dec.Length()
	}
	if _, err := dec.Seek(pos, io.SeekStart); err != nil {
		return fmt.Errorf("seek to %.2fs: %w", offset, err)
	}
	t.dec = dec

	ctx, err := t.engine.context(t.rate)
	if err != nil {
		return err
	}
	t.player = ctx.NewPlayer(dec)
	t.paused = false
	t.player.Play()

	t.watchWg.Add(1)
	go t.watch(t.player)
	return nil
}

// watch signals Done when the device drains the track's final samples.
func (t *track) watch(player *oto.Player) {
	defer t.watchWg.Done()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		t.mu.Lock()
		if t.closed || t.player != player {
			t.mu.Unlock()
			return
		}
		if !t.paused && !player.IsPlaying() {
			t.mu.Unlock()
			t.doneOne.Do(func() { close(t.done) })
			return
		}
		t.mu.Unlock()
	}
}

func (t *track) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.player != nil && !t.paused {
		t.player.Pause()
		t.paused = true
	}
}

func (t *track) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.player != nil && t.paused {
		t.player.Play()
		t.paused = false
	}
}

// Position reports seconds of audio actually played, derived from the
// decoder's read position minus what is still buffered in the device.
func (t *track) Position() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dec == nil {
		return 0
	}
	read, err := t.dec.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0
	}
	if t.player != nil {
		read -= int64(t.player.BufferedSize())
	}
	if read < 0 {
		read = 0
	}
	return float64(read) / float64(bytesPerFrame*t.rate)
}

func (t *track) Done() <-chan struct{} { return t.done }

func (t *track) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	if t.player != nil {
		t.player.Close()
		t.player = nil
	}
	t.mu.Unlock()
	t.watchWg.Wait()
	t.doneOne.Do(func() { close(t.done) })
	return nil
}
